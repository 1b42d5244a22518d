// Package demo supplies deterministic synthetic data for sources whose live
// data is unavailable. Every function here is a pure function of its input:
// randomness is seeded from the source name, never from the clock.
package demo

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/yourusername/fleetwatch/internal/model"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Clusters are the cluster names demo items are tagged with
var Clusters = []string{"kind-local", "prod-east", "staging-west"}

var (
	epoch      = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	namespaces = []string{"default", "kube-system", "monitoring", "payments"}
	apps       = []string{"api-gateway", "checkout", "inventory", "ledger", "notifier", "web-frontend"}
)

// newRand returns a generator seeded from the source name
func newRand(source string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(source))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Resources returns the demo dataset for source
func Resources(source string) []model.Item[model.Resource] {
	r := newRand(source)

	var objects []any
	switch source {
	case "pods":
		objects = pods(r)
	case "deployments":
		objects = deployments(r)
	case "nodes":
		objects = nodes(r)
	case "services":
		objects = services(r)
	case "events":
		objects = events(r)
	case "agents":
		return tag(agents(r))
	case "builds":
		return tag(builds(r))
	case "tools":
		return tag(tools(r))
	default:
		return tag(generic(source, r))
	}

	items := make([]model.Resource, 0, len(objects))
	for _, obj := range objects {
		u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
		if err != nil {
			// the objects above are all convertible; skip rather than panic
			continue
		}
		items = append(items, model.Resource(u))
	}
	return tag(items)
}

// Samples returns a demo instant vector for source
func Samples(source string) []model.Item[model.MetricSample] {
	r := newRand(source)

	out := make([]model.Item[model.MetricSample], 0, len(Clusters)*len(namespaces))
	for _, cluster := range Clusters {
		for _, ns := range namespaces {
			out = append(out, model.Item[model.MetricSample]{
				Cluster: cluster,
				Value: model.MetricSample{
					Metric:    map[string]string{"namespace": ns},
					Value:     float64(r.IntN(4000)) / 1000,
					Timestamp: epoch,
				},
			})
		}
	}
	return out
}

// tag spreads items across the demo clusters round-robin
func tag(items []model.Resource) []model.Item[model.Resource] {
	out := make([]model.Item[model.Resource], len(items))
	for i, item := range items {
		out[i] = model.Item[model.Resource]{Cluster: Clusters[i%len(Clusters)], Value: item}
	}
	return out
}

func meta(name, namespace string, r *rand.Rand) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:              name,
		Namespace:         namespace,
		Labels:            map[string]string{"app": name, "demo": "true"},
		CreationTimestamp: metav1.NewTime(epoch.Add(-time.Duration(r.IntN(30*24)) * time.Hour)),
	}
}

func pick[T any](r *rand.Rand, xs []T) T {
	return xs[r.IntN(len(xs))]
}

func pods(r *rand.Rand) []any {
	phases := []corev1.PodPhase{corev1.PodRunning, corev1.PodRunning, corev1.PodRunning, corev1.PodPending, corev1.PodFailed}

	out := make([]any, 0, 12)
	for i := 0; i < 12; i++ {
		app := apps[i%len(apps)]
		phase := pick(r, phases)
		pod := &corev1.Pod{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
			ObjectMeta: meta(fmt.Sprintf("%s-%05x", app, r.IntN(0xfffff)), pick(r, namespaces), r),
			Spec: corev1.PodSpec{
				NodeName:   fmt.Sprintf("worker-%d", r.IntN(4)),
				Containers: []corev1.Container{{Name: app, Image: "registry.local/" + app + ":1." + fmt.Sprint(r.IntN(9))}},
			},
			Status: corev1.PodStatus{
				Phase: phase,
				ContainerStatuses: []corev1.ContainerStatus{{
					Name:         app,
					Ready:        phase == corev1.PodRunning,
					RestartCount: int32(r.IntN(3)),
				}},
			},
		}
		out = append(out, pod)
	}
	return out
}

func deployments(r *rand.Rand) []any {
	out := make([]any, 0, len(apps))
	for _, app := range apps {
		replicas := int32(1 + r.IntN(4))
		ready := replicas
		if r.IntN(4) == 0 {
			ready = replicas - 1
		}
		out = append(out, &appsv1.Deployment{
			TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
			ObjectMeta: meta(app, pick(r, namespaces), r),
			Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
			Status: appsv1.DeploymentStatus{
				Replicas:          replicas,
				ReadyReplicas:     ready,
				AvailableReplicas: ready,
				UpdatedReplicas:   replicas,
			},
		})
	}
	return out
}

func nodes(r *rand.Rand) []any {
	out := make([]any, 0, 6)
	for i := 0; i < 6; i++ {
		ready := corev1.ConditionTrue
		if r.IntN(6) == 0 {
			ready = corev1.ConditionFalse
		}
		name := fmt.Sprintf("worker-%d", i)
		if i == 0 {
			name = "control-plane"
		}
		out = append(out, &corev1.Node{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Node"},
			ObjectMeta: meta(name, "", r),
			Status: corev1.NodeStatus{
				Capacity: corev1.ResourceList{
					corev1.ResourceCPU:    *resource.NewQuantity(int64(4<<r.IntN(3)), resource.DecimalSI),
					corev1.ResourceMemory: *resource.NewQuantity(int64(16<<r.IntN(3))<<30, resource.BinarySI),
					corev1.ResourcePods:   *resource.NewQuantity(110, resource.DecimalSI),
				},
				Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: ready}},
				NodeInfo:   corev1.NodeSystemInfo{KubeletVersion: "v1.34.1"},
			},
		})
	}
	return out
}

func services(r *rand.Rand) []any {
	types := []corev1.ServiceType{corev1.ServiceTypeClusterIP, corev1.ServiceTypeClusterIP, corev1.ServiceTypeNodePort, corev1.ServiceTypeLoadBalancer}

	out := make([]any, 0, len(apps))
	for i, app := range apps {
		out = append(out, &corev1.Service{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
			ObjectMeta: meta(app, pick(r, namespaces), r),
			Spec: corev1.ServiceSpec{
				Type:      pick(r, types),
				ClusterIP: fmt.Sprintf("10.96.%d.%d", i, 10+r.IntN(200)),
				Ports:     []corev1.ServicePort{{Name: "http", Port: 80, Protocol: corev1.ProtocolTCP}},
				Selector:  map[string]string{"app": app},
			},
		})
	}
	return out
}

func events(r *rand.Rand) []any {
	reasons := []struct {
		typ, reason, message string
	}{
		{corev1.EventTypeNormal, "Scheduled", "Successfully assigned pod to node"},
		{corev1.EventTypeNormal, "Pulled", "Container image already present on machine"},
		{corev1.EventTypeWarning, "BackOff", "Back-off restarting failed container"},
		{corev1.EventTypeWarning, "FailedScheduling", "0/6 nodes are available: insufficient memory"},
	}

	out := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		e := pick(r, reasons)
		app := pick(r, apps)
		ns := pick(r, namespaces)
		ts := metav1.NewTime(epoch.Add(-time.Duration(r.IntN(600)) * time.Minute))
		out = append(out, &corev1.Event{
			TypeMeta:       metav1.TypeMeta{APIVersion: "v1", Kind: "Event"},
			ObjectMeta:     meta(fmt.Sprintf("%s.%x", app, r.Uint32()), ns, r),
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: app, Namespace: ns},
			Type:           e.typ,
			Reason:         e.reason,
			Message:        e.message,
			Count:          int32(1 + r.IntN(20)),
			FirstTimestamp: ts,
			LastTimestamp:  ts,
			Source:         corev1.EventSource{Component: "kubelet"},
		})
	}
	return out
}

func agents(r *rand.Rand) []model.Resource {
	frameworks := []string{"langgraph", "crewai", "autogen"}
	statuses := []string{"Ready", "Ready", "Ready", "Pending"}

	out := make([]model.Resource, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, model.Resource{
			"name":      fmt.Sprintf("%s-agent", apps[i%len(apps)]),
			"namespace": pick(r, namespaces),
			"framework": pick(r, frameworks),
			"status":    pick(r, statuses),
			"replicas":  1 + r.IntN(3),
		})
	}
	return out
}

func builds(r *rand.Rand) []model.Resource {
	statuses := []string{"Succeeded", "Succeeded", "Running", "Failed"}

	out := make([]model.Resource, 0, 6)
	for i := 0; i < 6; i++ {
		out = append(out, model.Resource{
			"name":      fmt.Sprintf("build-%s-%d", apps[i%len(apps)], 100+r.IntN(900)),
			"namespace": pick(r, namespaces),
			"status":    pick(r, statuses),
			"startedAt": epoch.Add(-time.Duration(r.IntN(720)) * time.Minute).Format(time.RFC3339),
		})
	}
	return out
}

func tools(r *rand.Rand) []model.Resource {
	names := []string{"kubectl", "helm", "github", "prometheus", "slack"}

	out := make([]model.Resource, 0, len(names))
	for _, name := range names {
		out = append(out, model.Resource{
			"name":        name + "-tool",
			"namespace":   pick(r, namespaces),
			"protocol":    "mcp",
			"toolCount":   2 + r.IntN(12),
			"description": "Demo " + name + " tool registry entry",
		})
	}
	return out
}

func generic(source string, r *rand.Rand) []model.Resource {
	out := make([]model.Resource, 0, 3)
	for i := 0; i < 3; i++ {
		out = append(out, model.Resource{
			"name":      fmt.Sprintf("%s-%d", source, i+1),
			"namespace": pick(r, namespaces),
		})
	}
	return out
}
