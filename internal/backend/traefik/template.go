package traefik

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/melih/magicproxy/internal/core/domain"
)

// ErrUnresolvedVariables marks a render that referenced variables with no
// value. Rendering is fail-fast: a fragment must never be written with
// literal placeholder text in it.
var ErrUnresolvedVariables = errors.New("unresolved template variables")

// Reserved substitution keys, always derived from the entry itself and
// never overridable through userData.
const (
	varAppName   = "app_name"
	varHostname  = "hostname"
	varTargetURL = "target_url"
)

var (
	// {{ name }} or {{ ns.name }}, identifier segments only.
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// templates maps template name (base filename without extension) to its
// raw text.
type templates map[string]string

// loadTemplates reads every regular file in dir. One file may serve many
// applications.
func loadTemplates(dir string) (templates, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates dir %s: %w", dir, err)
	}

	ts := make(templates)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		ts[name] = string(data)
	}
	return ts, nil
}

// substitutionContext builds the variable table for one app: the three
// reserved keys, plus every identifier-shaped userData key both flat and
// namespaced under "userData.". A userData key colliding with a reserved
// name is only available namespaced.
func substitutionContext(appID string, intent domain.ProxyIntent) map[string]string {
	ctx := map[string]string{
		varAppName:   appID,
		varHostname:  intent.Hostname,
		varTargetURL: intent.Target,
	}

	for key, value := range intent.UserData {
		if !identifierPattern.MatchString(key) {
			continue
		}
		rendered := scalarString(value)
		ctx["userData."+key] = rendered
		if key == varAppName || key == varHostname || key == varTargetURL {
			continue
		}
		ctx[key] = rendered
	}
	return ctx
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// substitute replaces every placeholder in the named template. If any
// placeholder has no value the whole render fails, reporting the full
// deduplicated list of missing names.
func (ts templates) substitute(appID string, intent domain.ProxyIntent) (string, error) {
	tpl, ok := ts[intent.Template]
	if !ok {
		return "", fmt.Errorf("unknown template %q", intent.Template)
	}

	ctx := substitutionContext(appID, intent)
	missing := make(map[string]struct{})

	out := placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := ctx[name]
		if !ok {
			missing[name] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("%w in template %q: %s",
			ErrUnresolvedVariables, intent.Template, strings.Join(names, ", "))
	}
	return out, nil
}

// render substitutes and parses the result into a config fragment. A parse
// failure after substitution is a template-authoring error, distinct from
// missing data.
func (ts templates) render(appID string, intent domain.ProxyIntent) (Fragment, error) {
	out, err := ts.substitute(appID, intent)
	if err != nil {
		return nil, err
	}

	var frag Fragment
	if err := yaml.Unmarshal([]byte(out), &frag); err != nil {
		return nil, fmt.Errorf("template %q produced invalid config for %q: %w",
			intent.Template, appID, err)
	}
	return frag, nil
}
