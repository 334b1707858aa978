package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// propertySet maps node property names to bound parameter values. Cypher
// text only ever contains property names taken from the code, never values.
type propertySet struct {
	prefix string
	names  []string
	values map[string]any
}

func newPropertySet(prefix string) *propertySet {
	return &propertySet{prefix: prefix, values: make(map[string]any)}
}

// Set records name=value. Names must be plain identifiers; anything else is
// a programming error and panics.
func (p *propertySet) Set(name string, value any) *propertySet {
	if !propertyNamePattern.MatchString(name) {
		panic(fmt.Sprintf("graph: invalid property name %q", name))
	}
	if _, exists := p.values[name]; !exists {
		p.names = append(p.names, name)
	}
	p.values[name] = value
	return p
}

func (p *propertySet) param(name string) string {
	return p.prefix + "_" + name
}

// Clause renders "alias.a = $prefix_a, alias.b = $prefix_b" in insertion order.
func (p *propertySet) Clause(alias string) string {
	parts := make([]string, 0, len(p.names))
	for _, name := range p.names {
		parts = append(parts, fmt.Sprintf("%s.%s = $%s", alias, name, p.param(name)))
	}
	return strings.Join(parts, ", ")
}

// Params returns the bound values keyed by parameter name.
func (p *propertySet) Params() map[string]any {
	out := make(map[string]any, len(p.values))
	for name, value := range p.values {
		out[p.param(name)] = value
	}
	return out
}

// Map returns the values keyed by property name, for `SET n += $map` and
// `CREATE (n $map)` statements.
func (p *propertySet) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for name, value := range p.values {
		out[name] = value
	}
	return out
}

func (p *propertySet) Names() []string {
	names := append([]string(nil), p.names...)
	sort.Strings(names)
	return names
}

func mergeParams(sets ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value any) time.Time {
	raw, _ := value.(string)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func sectionProperties(section Section, passID string) *propertySet {
	return newPropertySet("section").
		Set("slug", section.Slug).
		Set("title", section.Title).
		Set("content", section.Content).
		Set("order", int64(section.Order)).
		Set("checksum", section.Checksum).
		Set("sourceRevision", section.SourceRevision).
		Set("parentSectionLabel", section.ParentSectionLabel).
		Set("stale", false).
		Set("lastTouchedPassId", passID).
		Set("updatedAt", formatTime(section.UpdatedAt))
}

func documentProperties(doc ArchitectureDocument) *propertySet {
	return newPropertySet("doc").
		Set("id", doc.ID).
		Set("fullContent", doc.FullContent).
		Set("version", doc.Version).
		Set("updatedAt", formatTime(doc.UpdatedAt))
}

func opportunityProperties(o Opportunity) *propertySet {
	return newPropertySet("opportunity").
		Set("id", o.ID).
		Set("title", o.Title).
		Set("description", o.Description).
		Set("status", string(o.Status)).
		Set("createdAt", formatTime(o.CreatedAt))
}

func proposalProperties(p Proposal) *propertySet {
	if p.ImplementationStatus == "" {
		p.ImplementationStatus = ImplementationPending
	}
	return newPropertySet("proposal").
		Set("id", p.ID).
		Set("opportunityId", p.OpportunityID).
		Set("title", p.Title).
		Set("targetSection", p.TargetSection).
		Set("description", p.Description).
		Set("status", string(p.Status)).
		Set("implementationStatus", string(p.ImplementationStatus)).
		Set("rejectionReason", p.RejectionReason).
		Set("createdAt", formatTime(p.CreatedAt)).
		Set("updatedAt", formatTime(p.UpdatedAt))
}

func vettingProperties(v Vetting) *propertySet {
	return newPropertySet("vetting").
		Set("id", v.ID).
		Set("proposalId", v.ProposalID).
		Set("assessment", v.Assessment).
		Set("vettedBy", v.VettedBy).
		Set("createdAt", formatTime(v.CreatedAt))
}

func implementationProperties(i Implementation) *propertySet {
	return newPropertySet("implementation").
		Set("id", i.ID).
		Set("proposalId", i.ProposalID).
		Set("summary", i.Summary).
		Set("implementedBy", i.ImplementedBy).
		Set("createdAt", formatTime(i.CreatedAt))
}

func validationProperties(v Validation) *propertySet {
	return newPropertySet("validation").
		Set("id", v.ID).
		Set("implementationId", v.ImplementationID).
		Set("outcome", string(v.Outcome)).
		Set("notes", v.Notes).
		Set("validatedBy", v.ValidatedBy).
		Set("createdAt", formatTime(v.CreatedAt))
}

func stringProp(props map[string]any, key string) string {
	value, _ := props[key].(string)
	return value
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolProp(props map[string]any, key string) bool {
	value, _ := props[key].(bool)
	return value
}

func sectionFromProps(props map[string]any) Section {
	return Section{
		Slug:               stringProp(props, "slug"),
		Title:              stringProp(props, "title"),
		Content:            stringProp(props, "content"),
		Order:              intProp(props, "order"),
		Checksum:           stringProp(props, "checksum"),
		SourceRevision:     stringProp(props, "sourceRevision"),
		ParentSectionLabel: stringProp(props, "parentSectionLabel"),
		Stale:              boolProp(props, "stale"),
		LastTouchedPassID:  stringProp(props, "lastTouchedPassId"),
		UpdatedAt:          parseTime(props["updatedAt"]),
	}
}

func opportunityFromProps(props map[string]any) Opportunity {
	return Opportunity{
		ID:          stringProp(props, "id"),
		Title:       stringProp(props, "title"),
		Description: stringProp(props, "description"),
		Status:      OpportunityStatus(stringProp(props, "status")),
		CreatedAt:   parseTime(props["createdAt"]),
	}
}

func proposalFromProps(props map[string]any) Proposal {
	return Proposal{
		ID:                   stringProp(props, "id"),
		OpportunityID:        stringProp(props, "opportunityId"),
		Title:                stringProp(props, "title"),
		TargetSection:        stringProp(props, "targetSection"),
		Description:          stringProp(props, "description"),
		Status:               ProposalStatus(stringProp(props, "status")),
		ImplementationStatus: ImplementationStatus(stringProp(props, "implementationStatus")),
		RejectionReason:      stringProp(props, "rejectionReason"),
		CreatedAt:            parseTime(props["createdAt"]),
		UpdatedAt:            parseTime(props["updatedAt"]),
	}
}

const luceneSpecial = `+-&|!(){}[]^"~*?:\/`

// escapeLucene quotes query syntax so user text is matched as plain terms.
func escapeLucene(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		if strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
