package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/duration"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

// KubeBackend answers the read-only kubectl tools through the Kubernetes API.
// It is used when no kubectl binary is installed.
type KubeBackend struct {
	client kubernetes.Interface
	now    func() time.Time
}

// NewKubeBackend wraps a clientset.
func NewKubeBackend(client kubernetes.Interface) *KubeBackend {
	return &KubeBackend{client: client, now: time.Now}
}

// NewKubeClient builds a clientset from the in-cluster config, falling back
// to kubeconfig (explicit path, $KUBECONFIG, then ~/.kube/config).
func NewKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	config, err := buildClientConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

func buildClientConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		config, err := rest.InClusterConfig()
		if err == nil {
			return config, nil
		}
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build client config: %w", err)
	}
	config.Timeout = 15 * time.Second
	return config, nil
}

var kubeNative = map[ID]bool{
	KubectlGetPods:        true,
	KubectlGetNodes:       true,
	KubectlGetEvents:      true,
	KubectlGetServices:    true,
	KubectlGetDeployments: true,
	KubectlLogs:           true,
}

func (b *KubeBackend) Name() string        { return "kubernetes-api" }
func (b *KubeBackend) Supports(id ID) bool { return kubeNative[id] }

func (b *KubeBackend) Run(ctx context.Context, id ID, args Args) Result {
	result := Result{ToolName: string(id), Command: CommandString(id, args)}
	start := time.Now()

	var (
		out string
		err error
	)
	switch id {
	case KubectlGetPods:
		out, err = b.pods(ctx, args.Namespace)
	case KubectlGetNodes:
		out, err = b.nodes(ctx)
	case KubectlGetEvents:
		out, err = b.events(ctx, args.Namespace)
	case KubectlGetServices:
		out, err = b.services(ctx, args.Namespace)
	case KubectlGetDeployments:
		out, err = b.deployments(ctx, args.Namespace)
	case KubectlLogs:
		out, err = b.logs(ctx, args)
	default:
		err = fmt.Errorf("tool %s is not served by the Kubernetes API backend", id)
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Output = out
	return result
}

// ServerVersion returns the cluster's git version, e.g. "v1.30.2".
func (b *KubeBackend) ServerVersion() (string, error) {
	info, err := b.client.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("failed to query server version: %w", err)
	}
	return info.GitVersion, nil
}

func (b *KubeBackend) age(t metav1.Time) string {
	if t.IsZero() {
		return "<unknown>"
	}
	return duration.HumanDuration(b.now().Sub(t.Time))
}

type table struct {
	buf bytes.Buffer
	w   *tabwriter.Writer
}

func newTable(headers ...string) *table {
	t := &table{}
	t.w = tabwriter.NewWriter(&t.buf, 0, 8, 3, ' ', 0)
	t.row(headers...)
	return t
}

func (t *table) row(cols ...string) {
	fmt.Fprintln(t.w, strings.Join(cols, "\t"))
}

func (t *table) String() string {
	_ = t.w.Flush()
	return t.buf.String()
}

func withNamespace(allNamespaces bool, ns string, cols ...string) []string {
	if allNamespaces {
		return append([]string{ns}, cols...)
	}
	return cols
}

func headers(allNamespaces bool, cols ...string) []string {
	return withNamespace(allNamespaces, "NAMESPACE", cols...)
}

func (b *KubeBackend) pods(ctx context.Context, namespace string) (string, error) {
	list, err := b.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list pods: %w", err)
	}
	if len(list.Items) == 0 {
		return noResources(namespace), nil
	}
	all := namespace == ""
	sort.Slice(list.Items, func(i, j int) bool {
		if list.Items[i].Namespace != list.Items[j].Namespace {
			return list.Items[i].Namespace < list.Items[j].Namespace
		}
		return list.Items[i].Name < list.Items[j].Name
	})

	t := newTable(headers(all, "NAME", "READY", "STATUS", "RESTARTS", "AGE", "IP", "NODE")...)
	for i := range list.Items {
		p := &list.Items[i]
		ready, restarts := 0, int32(0)
		for _, cs := range p.Status.ContainerStatuses {
			if cs.Ready {
				ready++
			}
			restarts += cs.RestartCount
		}
		t.row(withNamespace(all, p.Namespace,
			p.Name,
			fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)),
			podStatus(p),
			fmt.Sprintf("%d", restarts),
			b.age(p.CreationTimestamp),
			orNone(p.Status.PodIP),
			orNone(p.Spec.NodeName),
		)...)
	}
	return t.String(), nil
}

// podStatus mirrors the STATUS column of kubectl: a waiting or terminated
// container reason wins over the pod phase.
func podStatus(p *corev1.Pod) string {
	if p.DeletionTimestamp != nil {
		return "Terminating"
	}
	status := string(p.Status.Phase)
	if p.Status.Reason != "" {
		status = p.Status.Reason
	}
	for _, cs := range p.Status.ContainerStatuses {
		switch {
		case cs.State.Waiting != nil && cs.State.Waiting.Reason != "":
			return cs.State.Waiting.Reason
		case cs.State.Terminated != nil && cs.State.Terminated.Reason != "":
			status = cs.State.Terminated.Reason
		}
	}
	return status
}

func (b *KubeBackend) nodes(ctx context.Context) (string, error) {
	list, err := b.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(list.Items) == 0 {
		return "No resources found\n", nil
	}

	t := newTable("NAME", "STATUS", "ROLES", "AGE", "VERSION", "INTERNAL-IP", "OS-IMAGE")
	for i := range list.Items {
		n := &list.Items[i]
		status := "Unknown"
		for _, c := range n.Status.Conditions {
			if c.Type == corev1.NodeReady {
				if c.Status == corev1.ConditionTrue {
					status = "Ready"
				} else {
					status = "NotReady"
				}
			}
		}
		if n.Spec.Unschedulable {
			status += ",SchedulingDisabled"
		}
		var roles []string
		for label := range n.Labels {
			if role, ok := strings.CutPrefix(label, "node-role.kubernetes.io/"); ok && role != "" {
				roles = append(roles, role)
			}
		}
		sort.Strings(roles)
		ip := ""
		for _, a := range n.Status.Addresses {
			if a.Type == corev1.NodeInternalIP {
				ip = a.Address
			}
		}
		t.row(n.Name, status, orNone(strings.Join(roles, ",")), b.age(n.CreationTimestamp),
			n.Status.NodeInfo.KubeletVersion, orNone(ip), n.Status.NodeInfo.OSImage)
	}
	return t.String(), nil
}

func (b *KubeBackend) events(ctx context.Context, namespace string) (string, error) {
	list, err := b.client.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list events: %w", err)
	}
	if len(list.Items) == 0 {
		return noResources(namespace), nil
	}
	all := namespace == ""
	sort.SliceStable(list.Items, func(i, j int) bool {
		return eventTime(&list.Items[i]).Before(eventTime(&list.Items[j]))
	})

	t := newTable(headers(all, "LAST SEEN", "TYPE", "REASON", "OBJECT", "MESSAGE")...)
	for i := range list.Items {
		e := &list.Items[i]
		object := strings.ToLower(e.InvolvedObject.Kind) + "/" + e.InvolvedObject.Name
		t.row(withNamespace(all, e.Namespace,
			b.age(metav1.NewTime(eventTime(e))), e.Type, e.Reason, object,
			strings.TrimSpace(e.Message))...)
	}
	return t.String(), nil
}

func eventTime(e *corev1.Event) time.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp.Time
	case !e.EventTime.IsZero():
		return e.EventTime.Time
	}
	return e.CreationTimestamp.Time
}

func (b *KubeBackend) services(ctx context.Context, namespace string) (string, error) {
	list, err := b.client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list services: %w", err)
	}
	if len(list.Items) == 0 {
		return noResources(namespace), nil
	}
	all := namespace == ""

	t := newTable(headers(all, "NAME", "TYPE", "CLUSTER-IP", "PORT(S)", "AGE", "SELECTOR")...)
	for i := range list.Items {
		s := &list.Items[i]
		var ports []string
		for _, p := range s.Spec.Ports {
			port := fmt.Sprintf("%d/%s", p.Port, p.Protocol)
			if p.NodePort != 0 {
				port = fmt.Sprintf("%d:%d/%s", p.Port, p.NodePort, p.Protocol)
			}
			ports = append(ports, port)
		}
		var selector []string
		for k, v := range s.Spec.Selector {
			selector = append(selector, k+"="+v)
		}
		sort.Strings(selector)
		t.row(withNamespace(all, s.Namespace,
			s.Name, string(s.Spec.Type), orNone(s.Spec.ClusterIP),
			orNone(strings.Join(ports, ",")), b.age(s.CreationTimestamp),
			orNone(strings.Join(selector, ",")))...)
	}
	return t.String(), nil
}

func (b *KubeBackend) deployments(ctx context.Context, namespace string) (string, error) {
	list, err := b.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list deployments: %w", err)
	}
	if len(list.Items) == 0 {
		return noResources(namespace), nil
	}
	all := namespace == ""

	t := newTable(headers(all, "NAME", "READY", "UP-TO-DATE", "AVAILABLE", "AGE", "IMAGES")...)
	for i := range list.Items {
		d := &list.Items[i]
		t.row(withNamespace(all, d.Namespace,
			d.Name,
			fmt.Sprintf("%d/%d", d.Status.ReadyReplicas, desiredReplicas(d)),
			fmt.Sprintf("%d", d.Status.UpdatedReplicas),
			fmt.Sprintf("%d", d.Status.AvailableReplicas),
			b.age(d.CreationTimestamp),
			orNone(images(d.Spec.Template.Spec.Containers)))...)
	}
	return t.String(), nil
}

func desiredReplicas(d *appsv1.Deployment) int32 {
	return ptr.Deref(d.Spec.Replicas, 1)
}

func images(containers []corev1.Container) string {
	out := make([]string, 0, len(containers))
	for _, c := range containers {
		out = append(out, c.Image)
	}
	return strings.Join(out, ",")
}

func (b *KubeBackend) logs(ctx context.Context, args Args) (string, error) {
	ns := args.Namespace
	if ns == "" {
		ns = metav1.NamespaceDefault
	}
	opts := &corev1.PodLogOptions{}
	if args.Lines != nil {
		opts.TailLines = ptr.To(int64(*args.Lines))
	}
	raw, err := b.client.CoreV1().Pods(ns).GetLogs(args.Pod, opts).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of %s/%s: %w", ns, args.Pod, err)
	}
	return string(raw), nil
}

func noResources(namespace string) string {
	if namespace == "" {
		return "No resources found\n"
	}
	return fmt.Sprintf("No resources found in %s namespace.\n", namespace)
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
