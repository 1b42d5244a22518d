package diagnostic

import (
	"context"
	"fmt"
	"strings"
	"time"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	authorizationclient "k8s.io/client-go/kubernetes/typed/authorization/v1"
)

// AccessCheck is one permission the agent needs on every cluster
type AccessCheck struct {
	Verb     string
	Resource string
	Group    string
}

func (c AccessCheck) String() string {
	if c.Group == "" {
		return c.Verb + " " + c.Resource
	}
	return c.Verb + " " + c.Resource + "." + c.Group
}

// DefaultAccessChecks cover the list endpoints behind the built-in sources
var DefaultAccessChecks = []AccessCheck{
	{Verb: "list", Resource: "pods"},
	{Verb: "list", Resource: "deployments", Group: "apps"},
	{Verb: "list", Resource: "nodes"},
	{Verb: "list", Resource: "events"},
}

// AccessStatus records whether the current identity holds one permission on a cluster
type AccessStatus struct {
	Cluster   string
	Check     AccessCheck
	Allowed   bool
	Reason    string
	CheckedAt time.Time
}

// Message returns a human-friendly summary, empty when access is allowed
func (s *AccessStatus) Message() string {
	if s == nil || s.Allowed {
		return ""
	}

	message := s.Reason
	if message == "" {
		message = "current credentials cannot " + s.Check.String()
	}
	return message
}

// Finding converts a denied check into a finding; allowed checks yield nil
func (s *AccessStatus) Finding() *Finding {
	if s == nil || s.Allowed {
		return nil
	}
	f := newFinding(KindAccessDenied, SeverityWarning, s.Check.String()+" --context "+s.Cluster,
		fmt.Sprintf("Cannot %s on cluster %s", s.Check, s.Cluster),
		s.Message(),
	)
	return &f
}

// CheckAccess performs a SelfSubjectAccessReview for one permission
func CheckAccess(ctx context.Context, client authorizationclient.AuthorizationV1Interface, cluster string, check AccessCheck) (*AccessStatus, error) {
	sar := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Verb:     check.Verb,
				Resource: check.Resource,
				Group:    check.Group,
			},
		},
	}

	resp, err := client.SelfSubjectAccessReviews().Create(ctx, sar, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}

	status := &AccessStatus{
		Cluster:   cluster,
		Check:     check,
		Allowed:   resp.Status.Allowed,
		CheckedAt: time.Now(),
	}

	if resp.Status.Allowed {
		return status, nil
	}

	var details []string
	if resp.Status.Reason != "" {
		details = append(details, resp.Status.Reason)
	}
	if resp.Status.EvaluationError != "" {
		details = append(details, resp.Status.EvaluationError)
	}

	status.Reason = strings.TrimSpace(strings.Join(details, "; "))

	return status, nil
}
