package normalize

import (
	"fmt"
	"strings"
	"unicode"
)

// Domain names one categorical vocabulary.
type Domain string

const (
	DomainPayment    Domain = "payment"
	DomainGender     Domain = "gender"
	DomainDepartment Domain = "department"
	DomainAgeGroup   Domain = "ageGroup"
	DomainStayType   Domain = "stayType"
	DomainTFTeam     Domain = "tfTeam"
	DomainTShirtSize Domain = "tshirtSize"
	DomainRide       Domain = "ride"
)

// Label pairs one accepted spelling with its internal value. Within a
// domain the first label declared for a value is its display form.
type Label struct {
	Text  string
	Value any
}

// DefaultTables is the vocabulary used by the registration form and the
// shared spreadsheet. Values are strings except for payment and ride,
// which are booleans.
var DefaultTables = map[Domain][]Label{
	DomainPayment: {
		{"입금완료", true},
		{"완료", true},
		{"납부", true},
		{"예", true},
		{"O", true},
		{"미입금", false},
		{"미완료", false},
		{"입금전", false},
		{"미납", false},
		{"아니오", false},
		{"X", false},
	},
	DomainGender: {
		{"남성", "male"},
		{"남", "male"},
		{"남자", "male"},
		{"여성", "female"},
		{"여", "female"},
		{"여자", "female"},
	},
	DomainDepartment: {
		{"청년1부", "youth1"},
		{"청년2부", "youth2"},
		{"대학부", "college"},
		{"장년부", "adult"},
		{"새가족부", "newcomer"},
		{"기타", "other"},
	},
	DomainAgeGroup: {
		{"20대 초반", "early20s"},
		{"20대 중반", "mid20s"},
		{"20대 후반", "late20s"},
		{"30대", "30s"},
		{"40대 이상", "40plus"},
	},
	DomainStayType: {
		{"2박 3일", "full"},
		{"전체참석", "full"},
		{"1박 2일", "partial"},
		{"부분참석", "partial"},
		{"당일", "day"},
		{"당일참석", "day"},
	},
	DomainTFTeam: {
		{"찬양팀", "worship"},
		{"미디어팀", "media"},
		{"진행팀", "program"},
		{"새가족팀", "welcome"},
		{"해당없음", "none"},
		{"없음", "none"},
	},
	DomainTShirtSize: {
		{"S", "S"},
		{"M", "M"},
		{"L", "L"},
		{"XL", "XL"},
		{"2XL", "2XL"},
		{"XXL", "2XL"},
		{"3XL", "3XL"},
		{"XXXL", "3XL"},
	},
	DomainRide: {
		{"가능", true},
		{"예", true},
		{"O", true},
		{"불가능", false},
		{"불가", false},
		{"아니오", false},
		{"X", false},
	},
}

// Labels translates categorical labels for a set of domains. It is
// immutable after construction and safe for concurrent use.
type Labels struct {
	lookup  map[Domain]map[string]any
	display map[Domain]map[string]string
}

// NewLabels indexes tables. Internal values are accepted as their own
// labels, so mapping an already-mapped value is a no-op.
func NewLabels(tables map[Domain][]Label) *Labels {
	l := &Labels{
		lookup:  make(map[Domain]map[string]any, len(tables)),
		display: make(map[Domain]map[string]string, len(tables)),
	}
	for domain, labels := range tables {
		lookup := make(map[string]any, len(labels)*2)
		display := make(map[string]string, len(labels))
		for _, lb := range labels {
			lookup[labelKey(lb.Text)] = lb.Value
			valueText := fmt.Sprint(lb.Value)
			if _, seen := display[valueText]; !seen {
				display[valueText] = lb.Text
			}
		}
		for _, lb := range labels {
			k := labelKey(fmt.Sprint(lb.Value))
			if _, taken := lookup[k]; !taken {
				lookup[k] = lb.Value
			}
		}
		l.lookup[domain] = lookup
		l.display[domain] = display
	}
	return l
}

// Map returns the internal value for rawLabel. The boolean is false when
// the domain or the label is unknown; callers must then leave the field
// untouched rather than store the raw text.
func (l *Labels) Map(domain Domain, rawLabel string) (any, bool) {
	table, ok := l.lookup[domain]
	if !ok {
		return nil, false
	}
	v, ok := table[labelKey(rawLabel)]
	return v, ok
}

// Display returns the first declared label for an internal value.
func (l *Labels) Display(domain Domain, value any) (string, bool) {
	table, ok := l.display[domain]
	if !ok {
		return "", false
	}
	text, ok := table[fmt.Sprint(value)]
	return text, ok
}

// Domains lists the indexed domain names.
func (l *Labels) Domains() []Domain {
	out := make([]Domain, 0, len(l.lookup))
	for d := range l.lookup {
		out = append(out, d)
	}
	return out
}

var defaultLabels = NewLabels(DefaultTables)

// MapLabel maps rawLabel using DefaultTables.
func MapLabel(domain Domain, rawLabel string) (any, bool) {
	return defaultLabels.Map(domain, rawLabel)
}

// DisplayLabel renders value using DefaultTables.
func DisplayLabel(domain Domain, value any) (string, bool) {
	return defaultLabels.Display(domain, value)
}

// DefaultLabels exposes the shared index built from DefaultTables.
func DefaultLabels() *Labels { return defaultLabels }

// labelKey folds case, width of spacing and Unicode composition so that
// "입금 완료", "입금완료" and "xl" / "XL" compare equal.
func labelKey(s string) string {
	s = clean(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
