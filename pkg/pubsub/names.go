package pubsub

import (
	"fmt"
	"strings"
)

type resourceNames struct {
	project string
}

func (n resourceNames) topic(name string) string {
	return n.qualify(name, "topics")
}

func (n resourceNames) subscription(name string) string {
	return n.qualify(name, "subscriptions")
}

// qualify expands a short ID to projects/<project>/<collection>/<id>. Names
// that are already fully qualified pass through untouched.
func (n resourceNames) qualify(name, collection string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if strings.Contains(name, "/") || n.project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", n.project, collection, name)
}
