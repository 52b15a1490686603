package querydef

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Reserved URL parameters. Everything else in the address bar or in a
// definition's extra params is round-tripped verbatim.
const (
	ParamSliceID        = "slice_id"
	ParamDatasourceID   = "datasource_id"
	ParamDatasourceType = "datasource_type"
	ParamFormDataKey    = "form_data_key"
	ParamStandalone     = "standalone"
	ParamForce          = "force"
)

var reservedParams = []string{
	ParamSliceID,
	ParamDatasourceID,
	ParamDatasourceType,
	ParamFormDataKey,
	ParamStandalone,
}

// IsReserved reports whether name is owned by the exploration surface.
func IsReserved(name string) bool {
	return slices.Contains(reservedParams, name)
}

// BuildParams merges the address-bar query with the definition's identity.
// The chart id wins over the datasource identity: with a chart, the
// datasource parameters are dropped. Extra params from the definition are
// kept unless they collide with a reserved name.
func BuildParams(def Definition, current url.Values) url.Values {
	out := url.Values{}
	for k, vs := range current {
		out[k] = slices.Clone(vs)
	}
	if def.ChartID != 0 {
		out.Set(ParamSliceID, strconv.FormatInt(def.ChartID, 10))
		out.Del(ParamDatasourceID)
		out.Del(ParamDatasourceType)
	} else if !def.Datasource.IsZero() {
		out.Set(ParamDatasourceID, strconv.FormatInt(def.Datasource.ID, 10))
		out.Set(ParamDatasourceType, def.Datasource.Type)
	}
	for k, v := range def.ExtraParams {
		if IsReserved(k) {
			continue
		}
		out.Set(k, v)
	}
	return out
}

// ExploreURL renders the exploration URL for route with params, the
// form-data key placed first. standalone and force are appended when set.
func ExploreURL(route string, key string, params url.Values, standalone, force bool) string {
	p := url.Values{}
	for k, vs := range params {
		if k == ParamFormDataKey {
			continue
		}
		p[k] = vs
	}
	if standalone {
		p.Set(ParamStandalone, "1")
	}
	if force {
		p.Set(ParamForce, "1")
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(route, "/"))
	b.WriteString("/")
	sep := "?"
	if key != "" {
		b.WriteString(sep + ParamFormDataKey + "=" + url.QueryEscape(key))
		sep = "&"
	}
	if enc := p.Encode(); enc != "" {
		b.WriteString(sep + enc)
	}
	return b.String()
}

// IdentityFromURL reads chart, datasource and form-data key from u.
func IdentityFromURL(u *url.URL) Identity {
	var id Identity
	if u == nil {
		return id
	}
	q := u.Query()
	if v, err := strconv.ParseInt(q.Get(ParamSliceID), 10, 64); err == nil {
		id.ChartID = v
	}
	if v, err := strconv.ParseInt(q.Get(ParamDatasourceID), 10, 64); err == nil {
		id.Datasource = Datasource{ID: v, Type: q.Get(ParamDatasourceType)}
	}
	id.FormDataKey = q.Get(ParamFormDataKey)
	return id
}

// OnRoute reports whether path is the exploration route or below it.
func OnRoute(path, route string) bool {
	route = strings.TrimRight(route, "/")
	if route == "" {
		return true
	}
	return path == route || strings.HasPrefix(path, route+"/")
}
