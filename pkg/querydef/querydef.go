// Package querydef derives the externally visible query definition from a
// control snapshot and maps it onto the exploration URL.
package querydef

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/vizexplore/pkg/control"
)

// Frontend-only keys that may leak into form data but must never be
// persisted.
const (
	KeyFormDataKey = "form_data_key"
	KeyTabID       = "tab_id"
	// KeyURLParams carries caller supplied extra URL parameters inside form
	// data.
	KeyURLParams = "url_params"
	// KeyDatasource holds the "<id>__<type>" datasource identity.
	KeyDatasource = "datasource"
	KeyVizType    = "viz_type"
	KeySliceID    = "slice_id"
)

// Datasource identifies the data a chart is built from.
type Datasource struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// IsZero reports whether no datasource is set.
func (d Datasource) IsZero() bool {
	return d.ID == 0 && d.Type == ""
}

// String renders the "<id>__<type>" form used in form data.
func (d Datasource) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d__%s", d.ID, d.Type)
}

// ParseDatasource parses "<id>__<type>".
func ParseDatasource(s string) (Datasource, error) {
	idPart, typ, ok := strings.Cut(strings.TrimSpace(s), "__")
	if !ok || typ == "" {
		return Datasource{}, fmt.Errorf("invalid datasource %q", s)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Datasource{}, fmt.Errorf("invalid datasource id %q: %w", idPart, err)
	}
	return Datasource{ID: id, Type: typ}, nil
}

// Definition is the query definition derived from a control snapshot, plus
// its identity and the ephemeral frontend fields.
type Definition struct {
	FormData    map[string]any    `json:"form_data"`
	ChartID     int64             `json:"chart_id,omitempty"`
	DashboardID int64             `json:"dashboard_id,omitempty"`
	Datasource  Datasource        `json:"datasource"`
	ExtraParams map[string]string `json:"url_params,omitempty"`

	// Ephemeral, never persisted.
	FormDataKey string `json:"-"`
	TabID       string `json:"-"`
}

// Identity carries what a snapshot alone does not know.
type Identity struct {
	ChartID     int64
	DashboardID int64
	Datasource  Datasource
	FormDataKey string
	TabID       string
}

// FromSnapshot projects s into a Definition. A datasource control in the
// snapshot overrides the identity's datasource; extra URL params are lifted
// out of the url_params control.
func FromSnapshot(s control.Snapshot, id Identity) Definition {
	fd := s.Values()
	def := Definition{
		FormData:    fd,
		ChartID:     id.ChartID,
		DashboardID: id.DashboardID,
		Datasource:  id.Datasource,
		FormDataKey: id.FormDataKey,
		TabID:       id.TabID,
	}
	if raw, ok := fd[KeyDatasource].(string); ok && raw != "" {
		if ds, err := ParseDatasource(raw); err == nil {
			def.Datasource = ds
		}
	} else if !def.Datasource.IsZero() {
		fd[KeyDatasource] = def.Datasource.String()
	}
	if id.ChartID != 0 {
		fd[KeySliceID] = id.ChartID
	}
	def.ExtraParams = extraParams(fd[KeyURLParams])
	return def
}

// IdentityKeys are the form data keys derived from the session identity
// rather than from a control.
var IdentityKeys = []string{KeySliceID, KeyDatasource, KeyFormDataKey, KeyTabID}

// Empty reports whether the definition carries no form data.
func (d Definition) Empty() bool {
	return len(d.FormData) == 0
}

// VizType returns the selected visualization type.
func (d Definition) VizType() string {
	s, _ := d.FormData[KeyVizType].(string)
	return s
}

// Persistable returns the form data with every ephemeral key removed.
func (d Definition) Persistable() map[string]any {
	out := maps.Clone(d.FormData)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, KeyFormDataKey)
	delete(out, KeyTabID)
	return out
}

// Marshal encodes the persistable form data.
func (d Definition) Marshal() ([]byte, error) {
	return json.Marshal(d.Persistable())
}

// Unmarshal decodes form data produced by Marshal.
func Unmarshal(data []byte) (map[string]any, error) {
	var fd map[string]any
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("decoding form data: %w", err)
	}
	return fd, nil
}

func extraParams(v any) map[string]string {
	var out map[string]string
	switch t := v.(type) {
	case map[string]string:
		out = maps.Clone(t)
	case map[string]any:
		out = make(map[string]string, len(t))
		for k, val := range t {
			out[k] = fmt.Sprint(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
