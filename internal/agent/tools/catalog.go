// Package tools defines the fixed diagnostic tool catalog and the executors
// that run catalog tools against the local host, the Kubernetes API and the
// Docker engine.
package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a catalog tool. IDs are the exact names the model uses in a
// tool call.
type ID string

const (
	KubectlGetPods        ID = "kubectl_get_pods"
	KubectlDescribePod    ID = "kubectl_describe_pod"
	KubectlLogs           ID = "kubectl_logs"
	KubectlGetServices    ID = "kubectl_get_services"
	KubectlGetNodes       ID = "kubectl_get_nodes"
	KubectlGetEvents      ID = "kubectl_get_events"
	KubectlGetDeployments ID = "kubectl_get_deployments"
	KubectlTopPods        ID = "kubectl_top_pods"
	KubectlTopNodes       ID = "kubectl_top_nodes"
	KubectlClusterInfo    ID = "kubectl_cluster_info"
	JournalctlRecent      ID = "journalctl_recent"
	JournalctlErrors      ID = "journalctl_errors"
	JournalctlBoot        ID = "journalctl_boot"
	JournalctlService     ID = "journalctl_service"
	SystemctlStatus       ID = "systemctl_status"
	SystemctlFailed       ID = "systemctl_failed"
	DockerPs              ID = "docker_ps"
	DockerStats           ID = "docker_stats"
	PsAux                 ID = "ps_aux"
	Free                  ID = "free"
	Df                    ID = "df"
	Uptime                ID = "uptime"
	Dmesg                 ID = "dmesg"
	IPAddr                ID = "ip_addr"
	Ss                    ID = "ss"
)

// Arg names one of the four arguments a tool call can carry.
type Arg string

const (
	ArgNamespace Arg = "namespace"
	ArgPod       Arg = "pod"
	ArgService   Arg = "service"
	ArgLines     Arg = "lines"
)

// Category groups tools for display and for the prompt catalog.
type Category string

const (
	CategoryKubernetes Category = "kubernetes"
	CategorySystemd    Category = "systemd"
	CategoryJournal    Category = "journal"
	CategoryContainers Category = "containers"
	CategorySystem     Category = "system"
	CategoryNetwork    Category = "network"
)

// Spec describes a catalog entry.
type Spec struct {
	ID          ID
	Description string
	Category    Category
	Requires    []Arg
	Accepts     []Arg
	// DefaultLines is used for tools that accept --lines when none is given.
	DefaultLines int
}

// Args are the optional arguments of a tool call. Empty strings and a nil
// Lines mean absent.
type Args struct {
	Namespace string `json:"namespace,omitempty"`
	Pod       string `json:"pod,omitempty"`
	Service   string `json:"service,omitempty"`
	Lines     *int   `json:"lines,omitempty"`
}

// Has reports whether the argument is present.
func (a Args) Has(arg Arg) bool {
	switch arg {
	case ArgNamespace:
		return a.Namespace != ""
	case ArgPod:
		return a.Pod != ""
	case ArgService:
		return a.Service != ""
	case ArgLines:
		return a.Lines != nil
	}
	return false
}

// String renders the args as tool call flags.
func (a Args) String() string {
	var parts []string
	if a.Namespace != "" {
		parts = append(parts, "--namespace "+a.Namespace)
	}
	if a.Pod != "" {
		parts = append(parts, "--pod "+a.Pod)
	}
	if a.Service != "" {
		parts = append(parts, "--service "+a.Service)
	}
	if a.Lines != nil {
		parts = append(parts, "--lines "+strconv.Itoa(*a.Lines))
	}
	return strings.Join(parts, " ")
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

var catalog = []Spec{
	{ID: KubectlGetPods, Category: CategoryKubernetes, Accepts: []Arg{ArgNamespace},
		Description: "List pods with node placement and status"},
	{ID: KubectlDescribePod, Category: CategoryKubernetes, Requires: []Arg{ArgPod}, Accepts: []Arg{ArgNamespace},
		Description: "Describe a pod including recent events"},
	{ID: KubectlLogs, Category: CategoryKubernetes, Requires: []Arg{ArgPod}, Accepts: []Arg{ArgNamespace, ArgLines},
		Description: "Show container logs of a pod"},
	{ID: KubectlGetServices, Category: CategoryKubernetes, Accepts: []Arg{ArgNamespace},
		Description: "List services"},
	{ID: KubectlGetNodes, Category: CategoryKubernetes,
		Description: "List nodes with status and versions"},
	{ID: KubectlGetEvents, Category: CategoryKubernetes, Accepts: []Arg{ArgNamespace},
		Description: "List cluster events sorted by time"},
	{ID: KubectlGetDeployments, Category: CategoryKubernetes, Accepts: []Arg{ArgNamespace},
		Description: "List deployments and their replica status"},
	{ID: KubectlTopPods, Category: CategoryKubernetes, Accepts: []Arg{ArgNamespace},
		Description: "Show pod CPU and memory usage"},
	{ID: KubectlTopNodes, Category: CategoryKubernetes,
		Description: "Show node CPU and memory usage"},
	{ID: KubectlClusterInfo, Category: CategoryKubernetes,
		Description: "Show control plane endpoints"},
	{ID: JournalctlRecent, Category: CategoryJournal, Accepts: []Arg{ArgLines}, DefaultLines: 50,
		Description: "Show recent journal entries"},
	{ID: JournalctlErrors, Category: CategoryJournal, Accepts: []Arg{ArgLines}, DefaultLines: 50,
		Description: "Show recent journal entries with priority error or higher"},
	{ID: JournalctlBoot, Category: CategoryJournal, Accepts: []Arg{ArgLines}, DefaultLines: 100,
		Description: "Show journal entries of the current boot"},
	{ID: JournalctlService, Category: CategoryJournal, Requires: []Arg{ArgService}, Accepts: []Arg{ArgLines}, DefaultLines: 50,
		Description: "Show journal entries of a systemd unit"},
	{ID: SystemctlStatus, Category: CategorySystemd, Requires: []Arg{ArgService},
		Description: "Show the status of a systemd unit"},
	{ID: SystemctlFailed, Category: CategorySystemd,
		Description: "List failed systemd units"},
	{ID: DockerPs, Category: CategoryContainers,
		Description: "List all containers"},
	{ID: DockerStats, Category: CategoryContainers,
		Description: "Show container resource usage"},
	{ID: PsAux, Category: CategorySystem, Accepts: []Arg{ArgLines}, DefaultLines: 20,
		Description: "List processes sorted by CPU usage"},
	{ID: Free, Category: CategorySystem,
		Description: "Show memory usage"},
	{ID: Df, Category: CategorySystem,
		Description: "Show filesystem usage"},
	{ID: Uptime, Category: CategorySystem,
		Description: "Show uptime and load averages"},
	{ID: Dmesg, Category: CategorySystem, Accepts: []Arg{ArgLines}, DefaultLines: 50,
		Description: "Show recent kernel messages"},
	{ID: IPAddr, Category: CategoryNetwork,
		Description: "Show network interfaces and addresses"},
	{ID: Ss, Category: CategoryNetwork,
		Description: "Show listening sockets"},
}

var byName = func() map[string]Spec {
	m := make(map[string]Spec, len(catalog))
	for _, s := range catalog {
		m[string(s.ID)] = s
	}
	return m
}()

// Catalog returns the ordered tool catalog.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup resolves a tool name. Matching is case-sensitive.
func Lookup(name string) (ID, bool) {
	s, ok := byName[name]
	return s.ID, ok
}

// Get returns the spec of a tool.
func Get(id ID) (Spec, bool) {
	s, ok := byName[string(id)]
	return s, ok
}

// Missing returns the required arguments of id that args does not carry.
func Missing(id ID, args Args) []Arg {
	s, ok := Get(id)
	if !ok {
		return nil
	}
	var missing []Arg
	for _, a := range s.Requires {
		if !args.Has(a) {
			missing = append(missing, a)
		}
	}
	return missing
}

// Usage renders the tool call syntax of a spec, e.g.
// "kubectl_logs --pod <pod> [--namespace <namespace>] [--lines <lines>]".
func (s Spec) Usage() string {
	var b strings.Builder
	b.WriteString(string(s.ID))
	for _, a := range s.Requires {
		fmt.Fprintf(&b, " --%s <%s>", a, a)
	}
	for _, a := range s.Accepts {
		fmt.Fprintf(&b, " [--%s <%s>]", a, a)
	}
	return b.String()
}

func (s Spec) lines(args Args) int {
	if args.Lines != nil {
		return *args.Lines
	}
	return s.DefaultLines
}

// Command builds the argv of a tool invocation. The first element is the
// binary.
func Command(id ID, args Args) ([]string, error) {
	s, ok := Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", id)
	}
	if missing := Missing(id, args); len(missing) > 0 {
		return nil, fmt.Errorf("tool %s requires --%s", id, missing[0])
	}
	ns := func(argv []string) []string {
		if args.Namespace != "" {
			return append(argv, "-n", args.Namespace)
		}
		return argv
	}
	n := strconv.Itoa(s.lines(args))

	switch id {
	case KubectlGetPods:
		return ns([]string{"kubectl", "get", "pods", "--output=wide"}), nil
	case KubectlDescribePod:
		return ns([]string{"kubectl", "describe", "pod", args.Pod}), nil
	case KubectlLogs:
		argv := ns([]string{"kubectl", "logs", args.Pod})
		if args.Lines != nil {
			argv = append(argv, "--tail", strconv.Itoa(*args.Lines))
		}
		return argv, nil
	case KubectlGetServices:
		return ns([]string{"kubectl", "get", "services", "--output=wide"}), nil
	case KubectlGetNodes:
		return []string{"kubectl", "get", "nodes", "--output=wide"}, nil
	case KubectlGetEvents:
		return ns([]string{"kubectl", "get", "events", "--sort-by=.lastTimestamp"}), nil
	case KubectlGetDeployments:
		return ns([]string{"kubectl", "get", "deployments", "-o", "wide"}), nil
	case KubectlTopPods:
		return ns([]string{"kubectl", "top", "pods"}), nil
	case KubectlTopNodes:
		return []string{"kubectl", "top", "nodes"}, nil
	case KubectlClusterInfo:
		return []string{"kubectl", "cluster-info"}, nil
	case JournalctlRecent:
		return []string{"journalctl", "--no-pager", "-n", n}, nil
	case JournalctlErrors:
		return []string{"journalctl", "--no-pager", "-p", "err", "-n", n}, nil
	case JournalctlBoot:
		return []string{"journalctl", "--no-pager", "-b", "-n", n}, nil
	case JournalctlService:
		return []string{"journalctl", "-u", args.Service, "--no-pager", "-n", n}, nil
	case SystemctlStatus:
		return []string{"systemctl", "status", args.Service, "--no-pager"}, nil
	case SystemctlFailed:
		return []string{"systemctl", "--failed", "--no-pager"}, nil
	case DockerPs:
		return []string{"docker", "ps", "-a"}, nil
	case DockerStats:
		return []string{"docker", "stats", "--no-stream"}, nil
	case PsAux:
		return []string{"ps", "aux", "--sort=-%cpu"}, nil
	case Free:
		return []string{"free", "-h"}, nil
	case Df:
		return []string{"df", "-h"}, nil
	case Uptime:
		return []string{"uptime"}, nil
	case Dmesg:
		return []string{"dmesg", "--ctime"}, nil
	case IPAddr:
		return []string{"ip", "addr"}, nil
	case Ss:
		return []string{"ss", "-tulpn"}, nil
	}
	return nil, fmt.Errorf("no command for tool %q", id)
}

// CommandString is the literal command line of a tool invocation, used in
// results and transcripts. Invalid invocations render as the tool id.
func CommandString(id ID, args Args) string {
	argv, err := Command(id, args)
	if err != nil {
		s := string(id)
		if rest := args.String(); rest != "" {
			s += " " + rest
		}
		return s
	}
	return strings.Join(argv, " ")
}

// lineLimit returns how many lines of output to keep for tools whose binary
// has no native line limit. fromEnd selects the last lines instead of the
// first.
func lineLimit(id ID, args Args) (n int, fromEnd bool, ok bool) {
	s, _ := Get(id)
	switch id {
	case PsAux:
		// header line plus n processes
		return s.lines(args) + 1, false, true
	case Dmesg:
		return s.lines(args), true, true
	}
	return 0, false, false
}
