package expression

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
)

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// ResolveAddress expands a successor host assignment into the node list the
// message should go to. Literal hosts are returned as is. "{name}" is replaced
// with the envelope variable of that name and "{message.path}" with the value
// at path in the JSON body.
func ResolveAddress(host string, vars []envelope.Variable, body []byte) (string, error) {
	if !strings.Contains(host, "{") {
		return host, nil
	}

	var missing []string
	resolved := placeholder.ReplaceAllStringFunc(host, func(m string) string {
		key := strings.TrimSpace(m[1 : len(m)-1])
		if path, ok := strings.CutPrefix(key, MessageGlobal+"."); ok {
			res := gjson.GetBytes(body, path)
			if !res.Exists() {
				missing = append(missing, key)
				return ""
			}
			return res.String()
		}
		for _, v := range vars {
			if v.Variable == key && v.Value != nil {
				return fmt.Sprint(v.Value)
			}
		}
		missing = append(missing, key)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved address placeholders %s in %q", strings.Join(missing, ", "), host)
	}
	return resolved, nil
}
