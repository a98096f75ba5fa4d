package protocol

import "testing"

func TestSchemas_ValidateSamples(t *testing.T) {
	ok := func(typ, raw string) {
		t.Helper()
		if err := Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}
	bad := func(typ, raw string) {
		t.Helper()
		if err := Validate(typ, []byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected: %s", typ, raw)
		}
	}

	ok(TypeHello, `{"type":"HELLO","protocol_version":"1.0","host_name":"paper-1","token":"s3cret"}`)
	bad(TypeHello, `{"type":"HELLO","protocol_version":"1.0"}`)

	ok(TypeCmd, `{
	  "type":"CMD","id":"c1","op":"CREATE",
	  "args":{"player":"7f9c24e8-3b12-4fef-91e0-5c5d2b1d6a11","player_name":"alice",
	          "at":{"world":"world","x":10,"y":64,"z":-3}}
	}`)
	ok(TypeCmd, `{
	  "type":"CMD","id":"c2","op":"EXPLODE",
	  "args":{"blocks":[{"world":"world","x":1,"y":2,"z":3}]}
	}`)
	bad(TypeCmd, `{"type":"CMD","id":"c3","op":"TELEPORT","args":{}}`)
	bad(TypeCmd, `{"type":"CMD","id":"c4","op":"UPGRADE","args":{"tier":0}}`)
	bad(TypeCmd, `{"type":"CMD","id":"c5","op":"CREATE","args":{"at":{"world":"w","x":1.5,"y":2,"z":3}}}`)

	ok(TypeReply, `{"type":"REPLY","id":"r1","ok":true,"result":true}`)
	bad(TypeReply, `{"type":"REPLY","ok":true}`)

	ok(TypeEvent, `not validated`)
}
