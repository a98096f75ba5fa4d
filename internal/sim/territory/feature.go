package territory

import (
	"fmt"
	"strings"
)

// Feature is a purchasable territory effect.
type Feature uint8

const (
	FeatureRegeneration Feature = iota
	FeatureSpeed
	FeatureStrength
	FeatureResistance
	FeatureHaste
	FeatureJump
	FeatureFireResistance
	FeatureLuck
	FeatureNightVision
	FeatureWaterBreathing
	FeatureSaturation

	featureCount
)

var featureNames = [featureCount]string{
	FeatureRegeneration:   "regeneration",
	FeatureSpeed:          "speed",
	FeatureStrength:       "strength",
	FeatureResistance:     "resistance",
	FeatureHaste:          "haste",
	FeatureJump:           "jump",
	FeatureFireResistance: "fire_resistance",
	FeatureLuck:           "luck",
	FeatureNightVision:    "night_vision",
	FeatureWaterBreathing: "water_breathing",
	FeatureSaturation:     "saturation",
}

func AllFeatures() []Feature {
	out := make([]Feature, 0, featureCount)
	for f := Feature(0); f < featureCount; f++ {
		out = append(out, f)
	}
	return out
}

func (f Feature) Valid() bool { return f < featureCount }

func (f Feature) String() string {
	if !f.Valid() {
		return fmt.Sprintf("feature(%d)", uint8(f))
	}
	return featureNames[f]
}

func ParseFeature(s string) (Feature, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range featureNames {
		if name == s {
			return Feature(f), nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", s)
}

func (f Feature) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid feature %d", uint8(f))
	}
	return []byte(featureNames[f]), nil
}

func (f *Feature) UnmarshalText(b []byte) error {
	v, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FeatureSet is a bitset over Feature.
type FeatureSet uint16

func SetOf(fs ...Feature) FeatureSet {
	var s FeatureSet
	for _, f := range fs {
		s = s.With(f)
	}
	return s
}

func (s FeatureSet) Has(f Feature) bool { return f.Valid() && s&(1<<f) != 0 }

func (s FeatureSet) With(f Feature) FeatureSet {
	if !f.Valid() {
		return s
	}
	return s | 1<<f
}

func (s FeatureSet) Without(f Feature) FeatureSet { return s &^ (1 << f) }

func (s FeatureSet) List() []Feature {
	var out []Feature
	for f := Feature(0); f < featureCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
