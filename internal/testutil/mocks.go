package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// MockAgent implements Agent for testing.
type MockAgent struct {
	name         string
	capabilities core.Capabilities
	executeFunc  func(context.Context, core.ExecuteOptions) (*core.ExecuteResult, error)
	pingFunc     func(context.Context) error
	calls        []MockCall
	mu           sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// NewMockAgent creates a new mock agent.
func NewMockAgent(name string) *MockAgent {
	return &MockAgent{
		name: name,
		capabilities: core.Capabilities{
			SupportsJSON:      true,
			SupportsStreaming: false,
			SupportsTools:     true,
			MaxContextTokens:  100000,
			MaxOutputTokens:   8192,
		},
		calls: make([]MockCall, 0),
	}
}

// Name returns the mock name.
func (m *MockAgent) Name() string {
	return m.name
}

// Capabilities returns mock capabilities.
func (m *MockAgent) Capabilities() core.Capabilities {
	return m.capabilities
}

// Ping mocks availability check.
func (m *MockAgent) Ping(ctx context.Context) error {
	m.recordCall("Ping", nil)
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

// Execute mocks prompt execution.
func (m *MockAgent) Execute(ctx context.Context, opts core.ExecuteOptions) (*core.ExecuteResult, error) {
	m.recordCall("Execute", opts)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, opts)
	}

	promptPreview := opts.Prompt
	if len(promptPreview) > 50 {
		promptPreview = promptPreview[:50]
	}

	return &core.ExecuteResult{
		Output:    fmt.Sprintf("Mock response for: %s", promptPreview),
		TokensIn:  100,
		TokensOut: 50,
		CostUSD:   0.001,
		Duration:  time.Millisecond * 100,
	}, nil
}

// WithExecuteFunc sets a custom execute function.
func (m *MockAgent) WithExecuteFunc(fn func(context.Context, core.ExecuteOptions) (*core.ExecuteResult, error)) *MockAgent {
	m.executeFunc = fn
	return m
}

// WithPingFunc sets a custom ping function.
func (m *MockAgent) WithPingFunc(fn func(context.Context) error) *MockAgent {
	m.pingFunc = fn
	return m
}

// WithCapabilities sets capabilities.
func (m *MockAgent) WithCapabilities(caps core.Capabilities) *MockAgent {
	m.capabilities = caps
	return m
}

// WithError configures the mock to return an error.
func (m *MockAgent) WithError(err error) *MockAgent {
	m.executeFunc = func(ctx context.Context, opts core.ExecuteOptions) (*core.ExecuteResult, error) {
		return nil, err
	}
	return m
}

// WithResponse configures a fixed response.
func (m *MockAgent) WithResponse(output string) *MockAgent {
	m.executeFunc = func(ctx context.Context, opts core.ExecuteOptions) (*core.ExecuteResult, error) {
		return &core.ExecuteResult{
			Output:    output,
			TokensIn:  100,
			TokensOut: len(output) / 4,
			Duration:  time.Millisecond * 50,
		}, nil
	}
	return m
}

// Calls returns recorded calls.
func (m *MockAgent) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns number of calls to a method.
func (m *MockAgent) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockAgent) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockCall, 0)
}

func (m *MockAgent) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// MockRegistry implements AgentRegistry for testing.
type MockRegistry struct {
	agents map[string]*MockAgent
	mu     sync.RWMutex
}

// NewMockRegistry creates a new mock registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		agents: make(map[string]*MockAgent),
	}
}

// Add adds a mock agent.
func (r *MockRegistry) Add(name string, agent *MockAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = agent
}

// Register adds an agent to the registry.
func (r *MockRegistry) Register(name string, agent core.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mock, ok := agent.(*MockAgent); ok {
		r.agents[name] = mock
	}
	return nil
}

// Get returns an agent.
func (r *MockRegistry) Get(name string) (core.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if agent, ok := r.agents[name]; ok {
		return agent, nil
	}
	return nil, core.ErrNotFound("agent", name)
}

// List returns agent names.
func (r *MockRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Available returns agents that pass Ping.
func (r *MockRegistry) Available(ctx context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	available := make([]string, 0)
	for name, agent := range r.agents {
		if agent.Ping(ctx) == nil {
			available = append(available, name)
		}
	}
	return available
}

// AvailableForPhase returns agents that pass Ping and are enabled for the given phase.
// In the mock, this just returns all available agents (can be extended for specific tests).
func (r *MockRegistry) AvailableForPhase(ctx context.Context, _ string) []string {
	return r.Available(ctx)
}

// MockGitClient implements core.GitClient for Merge-Test Engine and
// Scheduler tests that need to drive rebase/conflict scenarios without a
// real git repository.
type MockGitClient struct {
	mu sync.Mutex

	CurrentBranchVal string
	DefaultBranchVal string
	RemoteURLVal     string
	RevParseFunc     func(ctx context.Context, ref string) (string, error)
	RebaseFunc       func(ctx context.Context, worktreePath, base string) ([]string, error)
	RebaseContinueFunc func(ctx context.Context, worktreePath string) ([]string, error)
	MergeFunc        func(ctx context.Context, head string) error
	BranchExistsFunc func(ctx context.Context, name string) (bool, error)

	calls []MockCall
}

// NewMockGitClient creates a mock with permissive defaults: every
// operation succeeds and RevParse/Rebase report a clean, conflict-free
// state unless overridden.
func NewMockGitClient() *MockGitClient {
	return &MockGitClient{CurrentBranchVal: "main", DefaultBranchVal: "main"}
}

func (g *MockGitClient) record(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, MockCall{Method: method, Timestamp: time.Now()})
}

// Calls returns recorded calls.
func (g *MockGitClient) Calls() []MockCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]MockCall{}, g.calls...)
}

func (g *MockGitClient) RepoRoot(context.Context) (string, error)      { return "/repo", nil }
func (g *MockGitClient) CurrentBranch(context.Context) (string, error) { return g.CurrentBranchVal, nil }
func (g *MockGitClient) DefaultBranch(context.Context) (string, error) { return g.DefaultBranchVal, nil }
func (g *MockGitClient) RemoteURL(context.Context) (string, error)     { return g.RemoteURLVal, nil }

func (g *MockGitClient) BranchExists(ctx context.Context, name string) (bool, error) {
	g.record("BranchExists")
	if g.BranchExistsFunc != nil {
		return g.BranchExistsFunc(ctx, name)
	}
	return true, nil
}
func (g *MockGitClient) CreateBranch(context.Context, string, string) error { return nil }
func (g *MockGitClient) DeleteBranch(context.Context, string) error         { return nil }
func (g *MockGitClient) CheckoutBranch(context.Context, string) error       { return nil }

func (g *MockGitClient) CreateWorktree(context.Context, string, string, string) error { return nil }
func (g *MockGitClient) RemoveWorktree(context.Context, string, bool) error            { return nil }
func (g *MockGitClient) PruneWorktrees(context.Context) error                          { return nil }
func (g *MockGitClient) ListWorktrees(context.Context) ([]core.Worktree, error)        { return nil, nil }

func (g *MockGitClient) Status(context.Context) (*core.GitStatus, error) {
	return &core.GitStatus{Branch: g.CurrentBranchVal}, nil
}
func (g *MockGitClient) Add(context.Context, ...string) error { return nil }
func (g *MockGitClient) Commit(context.Context, string) (string, error) { return "deadbeef", nil }
func (g *MockGitClient) Push(context.Context, string, string, bool) error { return nil }

func (g *MockGitClient) Rebase(ctx context.Context, worktreePath, base string) ([]string, error) {
	g.record("Rebase")
	if g.RebaseFunc != nil {
		return g.RebaseFunc(ctx, worktreePath, base)
	}
	return nil, nil
}
func (g *MockGitClient) RebaseContinue(ctx context.Context, worktreePath string) ([]string, error) {
	g.record("RebaseContinue")
	if g.RebaseContinueFunc != nil {
		return g.RebaseContinueFunc(ctx, worktreePath)
	}
	return nil, nil
}
func (g *MockGitClient) RebaseAbort(context.Context, string) error { return nil }

func (g *MockGitClient) Merge(ctx context.Context, head string) error {
	g.record("Merge")
	if g.MergeFunc != nil {
		return g.MergeFunc(ctx, head)
	}
	return nil
}

func (g *MockGitClient) MergeAbort(context.Context) error {
	g.record("MergeAbort")
	return nil
}

func (g *MockGitClient) Diff(context.Context, string, string) (string, error)       { return "", nil }
func (g *MockGitClient) DiffFiles(context.Context, string, string) ([]string, error) { return nil, nil }
func (g *MockGitClient) CommitDiff(context.Context, string) (string, error)          { return "", nil }
func (g *MockGitClient) Log(context.Context, string, int) ([]core.CommitInfo, error) { return nil, nil }
func (g *MockGitClient) UnpushedCount(context.Context, string) (int, error)          { return 0, nil }

func (g *MockGitClient) IsClean(context.Context) (bool, error)                 { return true, nil }
func (g *MockGitClient) Fetch(context.Context, string) error                   { return nil }
func (g *MockGitClient) Clone(context.Context, string, string, string) error   { return nil }

func (g *MockGitClient) RevParse(ctx context.Context, ref string) (string, error) {
	g.record("RevParse")
	if g.RevParseFunc != nil {
		return g.RevParseFunc(ctx, ref)
	}
	return "deadbeef", nil
}

// MockContainerRuntime implements core.ContainerRuntime for Scheduler tests
// that need to drive container start/exit without a real docker daemon.
type MockContainerRuntime struct {
	mu      sync.Mutex
	next    int
	calls   []MockCall

	StartFunc             func(ctx context.Context, spec core.ContainerSpec) (core.ContainerHandle, error)
	WaitFunc              func(ctx context.Context, handle core.ContainerHandle) (int, error)
	StopFunc              func(ctx context.Context, handle core.ContainerHandle, grace time.Duration) error
	LogsStreamFunc        func(ctx context.Context, handle core.ContainerHandle) (io.ReadCloser, error)
	ListAliveFunc         func(ctx context.Context) ([]core.ContainerHandle, error)
	VerifyWorktreeLinkFunc func(worktreePath string) error
}

// NewMockContainerRuntime creates a mock with permissive defaults: every
// container starts, exits 0 immediately, and streams no logs.
func NewMockContainerRuntime() *MockContainerRuntime {
	return &MockContainerRuntime{}
}

func (r *MockContainerRuntime) record(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Timestamp: time.Now()})
}

// Calls returns recorded calls.
func (r *MockContainerRuntime) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall{}, r.calls...)
}

func (r *MockContainerRuntime) Start(ctx context.Context, spec core.ContainerSpec) (core.ContainerHandle, error) {
	r.record("Start")
	if r.StartFunc != nil {
		return r.StartFunc(ctx, spec)
	}
	r.mu.Lock()
	r.next++
	handle := core.ContainerHandle(fmt.Sprintf("container-%d", r.next))
	r.mu.Unlock()
	return handle, nil
}

func (r *MockContainerRuntime) Wait(ctx context.Context, handle core.ContainerHandle) (int, error) {
	r.record("Wait")
	if r.WaitFunc != nil {
		return r.WaitFunc(ctx, handle)
	}
	return 0, nil
}

func (r *MockContainerRuntime) Stop(ctx context.Context, handle core.ContainerHandle, grace time.Duration) error {
	r.record("Stop")
	if r.StopFunc != nil {
		return r.StopFunc(ctx, handle, grace)
	}
	return nil
}

func (r *MockContainerRuntime) LogsStream(ctx context.Context, handle core.ContainerHandle) (io.ReadCloser, error) {
	r.record("LogsStream")
	if r.LogsStreamFunc != nil {
		return r.LogsStreamFunc(ctx, handle)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (r *MockContainerRuntime) ListAlive(ctx context.Context) ([]core.ContainerHandle, error) {
	r.record("ListAlive")
	if r.ListAliveFunc != nil {
		return r.ListAliveFunc(ctx)
	}
	return nil, nil
}

func (r *MockContainerRuntime) VerifyWorktreeLink(worktreePath string) error {
	r.record("VerifyWorktreeLink")
	if r.VerifyWorktreeLinkFunc != nil {
		return r.VerifyWorktreeLinkFunc(worktreePath)
	}
	return nil
}

// Ensure interfaces are implemented
var _ core.Agent = (*MockAgent)(nil)
var _ core.AgentRegistry = (*MockRegistry)(nil)
var _ core.GitClient = (*MockGitClient)(nil)
var _ core.ContainerRuntime = (*MockContainerRuntime)(nil)
