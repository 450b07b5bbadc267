// Package template renders user-authored channel text against a submission.
//
// Rendering is best effort: a {{name}} token that resolves to nothing is kept
// verbatim. Each token of the input is resolved once, so values that contain
// placeholder syntax are never expanded again.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/djlord-it/formrelay/internal/domain"
)

// FormName is substituted for {{formName}}; the engine has no form metadata.
const FormName = "Form"

const (
	dateLayout = "1/2/2006"
	timeLayout = "3:04:05 PM"
)

var placeholder = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Render substitutes placeholders using the current local time for {{date}}
// and {{time}}.
func Render(tmpl string, sub domain.Submission) string {
	return RenderAt(tmpl, sub, time.Now())
}

// RenderAt is Render with an explicit render time.
func RenderAt(tmpl string, sub domain.Submission, now time.Time) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[2 : len(token)-2]
		if v, ok := sub.Data[name]; ok {
			return Value(v)
		}
		if v, ok := systemValue(name, sub, now); ok {
			return v
		}
		return token
	})
}

func systemValue(name string, sub domain.Submission, now time.Time) (string, bool) {
	switch name {
	case "formId":
		return sub.FormID, true
	case "submissionId":
		return sub.SubmissionID, true
	case "timestamp":
		return sub.ISOTimestamp(), true
	case "submissionData":
		return prettyJSON(sub.Data), true
	case "formName":
		return FormName, true
	case "date":
		return now.Local().Format(dateLayout), true
	case "time":
		return now.Local().Format(timeLayout), true
	}
	return "", false
}

// Value renders a field value the way a placeholder would. Falsy values
// render as the empty string.
func Value(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
		return "true"
	case float64:
		if val == 0 {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		if val == 0 {
			return ""
		}
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		if val == 0 {
			return ""
		}
		return strconv.Itoa(val)
	case int64:
		if val == 0 {
			return ""
		}
		return strconv.FormatInt(val, 10)
	case json.Number:
		if f, err := val.Float64(); err == nil && f == 0 {
			return ""
		}
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			if item == nil {
				continue
			}
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func prettyJSON(data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Placeholders lists the distinct placeholder names referenced by tmpl,
// sorted. The settings UI uses it to hint at unknown fields.
func Placeholders(tmpl string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
