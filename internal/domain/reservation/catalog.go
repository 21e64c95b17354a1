package reservation

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps a course duration to the id of the radio input the remote
// quick-registration form renders for it.
type Catalog map[Course]string

// DefaultCatalog is the course list of the shop the service was built for.
func DefaultCatalog() Catalog {
	return Catalog{
		"60":  "course_id_221687",
		"75":  "course_id_221688",
		"90":  "course_id_221689",
		"120": "course_id_221690",
		"180": "course_id_221691",
		"240": "course_id_221692",
	}
}

func (c Catalog) Lookup(course Course) (string, bool) {
	id, ok := c[course]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (c Catalog) Courses() []Course {
	out := make([]Course, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

type catalogFile struct {
	Courses map[string]string `yaml:"courses"`
}

// LoadCatalog reads a YAML file of the form
//
//	courses:
//	  "60": course_id_221687
//
// An empty path returns DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read course map: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse course map %s: %w", path, err)
	}
	if len(f.Courses) == 0 {
		return nil, fmt.Errorf("course map %s has no courses", path)
	}
	c := make(Catalog, len(f.Courses))
	for k, v := range f.Courses {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			return nil, fmt.Errorf("course map %s: empty course or element id", path)
		}
		c[Course(k)] = v
	}
	return c, nil
}
