package pubsub

import "testing"

func TestResourceNamesQualify(t *testing.T) {
	names := resourceNames{project: "courier-dev"}
	cases := []struct {
		name string
		in   string
		fn   func(string) string
		want string
	}{
		{"short topic", "courier-order-events", names.topic, "projects/courier-dev/topics/courier-order-events"},
		{"qualified topic", "projects/other/topics/x", names.topic, "projects/other/topics/x"},
		{"short subscription", " courier-notifications ", names.subscription, "projects/courier-dev/subscriptions/courier-notifications"},
		{"topic path as subscription", "projects/other/topics/x", names.subscription, ""},
		{"empty", "  ", names.topic, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(tc.in); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestResourceNamesRequireProject(t *testing.T) {
	if got := (resourceNames{}).topic("orders"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestCompactDropsBlanksAndDuplicates(t *testing.T) {
	got := compact([]string{"a", " ", "b", "a ", ""})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v", got)
	}
}
