package risk

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// Tag is a risk classification label attached to an edge.
type Tag uint8

const (
	TagBridge Tag = iota
	TagMixer
	TagDEXInteraction
	TagRiskyAddress
	TagContractInteraction
	TagHighGasUsage
	TagZeroValue
	TagSelfTransaction
	TagContractCreation
	TagSuspiciousPattern

	numTags
)

var tagNames = [numTags]string{
	TagBridge:              "BRIDGE",
	TagMixer:               "MIXER",
	TagDEXInteraction:      "DEX_INTERACTION",
	TagRiskyAddress:        "RISKY_ADDRESS",
	TagContractInteraction: "CONTRACT_INTERACTION",
	TagHighGasUsage:        "HIGH_GAS_USAGE",
	TagZeroValue:           "ZERO_VALUE",
	TagSelfTransaction:     "SELF_TRANSACTION",
	TagContractCreation:    "CONTRACT_CREATION",
	TagSuspiciousPattern:   "SUSPICIOUS_PATTERN",
}

// AllTags lists every tag in declaration order.
func AllTags() []Tag {
	out := make([]Tag, 0, numTags)
	for t := Tag(0); t < numTags; t++ {
		out = append(out, t)
	}
	return out
}

func (t Tag) String() string {
	if t < numTags {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// ParseTag is the inverse of Tag.String.
func ParseTag(s string) (Tag, error) {
	for t, name := range tagNames {
		if strings.EqualFold(name, s) {
			return Tag(t), nil
		}
	}
	return 0, fmt.Errorf("unknown risk tag %q", s)
}

// TagSet is a set of tags. The zero value is the empty set.
type TagSet uint16

func NewTagSet(tags ...Tag) TagSet {
	var s TagSet
	for _, t := range tags {
		s = s.Add(t)
	}
	return s
}

func (s TagSet) Add(t Tag) TagSet {
	if t >= numTags {
		return s
	}
	return s | 1<<t
}

func (s TagSet) Has(t Tag) bool {
	return t < numTags && s&(1<<t) != 0
}

func (s TagSet) Len() int {
	return bits.OnesCount16(uint16(s))
}

// Tags returns the members in declaration order.
func (s TagSet) Tags() []Tag {
	out := make([]Tag, 0, s.Len())
	for t := Tag(0); t < numTags; t++ {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TagSet) Strings() []string {
	tags := s.Tags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

func (s TagSet) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set TagSet
	for _, name := range names {
		t, err := ParseTag(name)
		if err != nil {
			return err
		}
		set = set.Add(t)
	}
	*s = set
	return nil
}
