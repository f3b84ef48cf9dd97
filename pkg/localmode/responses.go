package localmode

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultResponses is the canned set used when no response file is configured.
var DefaultResponses = []string{
	"That sounds great! Could you tell me a bit more about what you are looking for in the catalog?",
	"I can help with course descriptions, prerequisites, degree requirements and program details. What would you like to know?",
	"Most undergraduate programs require 120 credit hours, including general education courses, major requirements and electives. Check the program page in the catalog for the exact breakdown for your major.",
	"I'm running in offline mode right now, so I can only give general answers. Please try again in a moment for catalog-specific details.",
	"Course prerequisites are listed at the end of each course description. If you have questions about a waiver, your academic advisor is the best contact.",
}

// ResponseFile is the on-disk format of a canned response set.
//
//	responses:
//	  - "first answer"
//	  - "second answer"
type ResponseFile struct {
	Responses []string `yaml:"responses"`
}

// LoadResponses reads a canned response set from a YAML file.
// Blank entries are dropped; a file without any usable entry is an error.
func LoadResponses(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read response file %s", path)
	}
	return ParseResponses(b)
}

func ParseResponses(b []byte) ([]string, error) {
	var f ResponseFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse response file")
	}
	out := make([]string, 0, len(f.Responses))
	for _, r := range f.Responses {
		if strings.TrimSpace(r) == "" {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("response file has no responses")
	}
	return out, nil
}
