package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// Ref is a parsed schema reference as carried in an envelope's schema_uri.
//
// Supported forms:
//   - embedding           (schema id, or name with no version)
//   - embedding@2         (major only)
//   - embedding@2.1.0     (exact version)
//   - embedding@^2.1      (caret range)
//   - embedding@>=1 <3    (comparison range)
type Ref struct {
	Name  string
	Range string
	Raw   string
}

// ParseRef splits a schema reference on its first '@'.
func ParseRef(input string) (Ref, error) {
	raw := strings.TrimSpace(input)
	name, rng, _ := strings.Cut(raw, "@")
	if name == "" {
		return Ref{}, NewError(CodeInvalidArgument, "invalid schema reference: %q", input)
	}
	return Ref{Name: name, Range: strings.TrimSpace(rng), Raw: raw}, nil
}

// IsMajorOnly reports whether rangeStr is a bare major version such as "3".
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// SatisfiesRange reports whether version satisfies rangeStr. An empty range matches any valid
// version; a major-only range matches every version with that major.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if rangeStr == "" {
		return true
	}
	if IsMajorOnly(rangeStr) {
		major, _ := strconv.ParseUint(rangeStr, 10, 64)
		return sv.Major() == major
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// highest returns the definition with the greatest version among those satisfying rangeStr.
// Stable releases are preferred over prereleases when no range is given.
func highest(defs []Definition, rangeStr string) (Definition, bool) {
	var matching []Definition
	for _, d := range defs {
		if SatisfiesRange(d.Version, rangeStr) {
			matching = append(matching, d)
		}
	}
	if len(matching) == 0 {
		return Definition{}, false
	}

	if rangeStr == "" {
		var stable []Definition
		for _, d := range matching {
			if sv, _ := masterminds.NewVersion(d.Version); sv.Prerelease() == "" {
				stable = append(stable, d)
			}
		}
		if len(stable) > 0 {
			matching = stable
		}
	}

	sortVersionsDesc(matching)
	return matching[0], true
}

func sortVersionsDesc(defs []Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(defs[i].Version)
		vj, err2 := masterminds.NewVersion(defs[j].Version)
		if err1 != nil || err2 != nil {
			return false
		}
		if vi.Equal(vj) {
			return defs[i].ID < defs[j].ID
		}
		return vi.GreaterThan(vj)
	})
}
