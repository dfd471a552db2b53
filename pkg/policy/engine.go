package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default policy decision path (e.g. "interpose/authz/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates policy decisions using an embedded OPA SDK instance.
type Engine struct {
	modules    *moduleSet
	entrypoint string
	cache      *decisionCache
	queries    map[string]*rego.PreparedEvalQuery
	mu         sync.RWMutex
	logger     *slog.Logger
}

// moduleSet is an immutable set of parsed modules.
type moduleSet struct {
	order  []string
	parsed map[string]*ast.Module
}

func parseModules(modules map[string]string) (*moduleSet, error) {
	if len(modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}
	set := &moduleSet{
		order:  make([]string, 0, len(modules)),
		parsed: make(map[string]*ast.Module, len(modules)),
	}
	for name := range modules {
		set.order = append(set.order, name)
	}
	sort.Strings(set.order)

	for _, name := range set.order {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		set.parsed[name] = module
	}
	return set, nil
}

func (s *moduleSet) prepare(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(s.order)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range s.order {
		opts = append(opts, rego.ParsedModule(s.parsed[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &prepared, nil
}

const (
	defaultEntrypoint    = "interpose/authz/decision"
	defaultCacheCapacity = 1024
)

// NewEngine constructs an Engine for the supplied configuration and entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	modules, err := parseModules(opts.Modules)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		modules:    modules,
		entrypoint: entry,
		cache:      cache,
		queries:    make(map[string]*rego.PreparedEvalQuery),
		logger:     opts.Logger,
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}

	// Warm the default entrypoint to surface syntax errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate executes the policy using the supplied input and converts the result.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}
	if entry == "" {
		return Decision{}, errors.New("policy engine requires an entrypoint")
	}

	payload := map[string]any{
		"contract":   input.Contract,
		"method":     input.Method,
		"principal":  input.Principal,
		"arguments":  cloneArgs(input.Arguments),
		"attributes": cloneAnyMap(input.Attributes),
	}

	cacheKey, shouldCache := e.cacheKey(entry, input)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cloneDecision(cached), nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	e.logger.Debug("evaluating policy", "entrypoint", entry, "contract", input.Contract, "method", input.Method)
	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("policy produced no result, allowing", "entrypoint", entry)
		return Decision{Action: ActionAllow, Metadata: map[string]string{}, Outputs: map[string]any{}}, nil
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	action, err := parseAction(decisionPayload["action"])
	if err != nil {
		return Decision{}, err
	}

	reason, _ := decisionPayload["reason"].(string)
	metadata := parseMetadata(decisionPayload["metadata"])

	outputs := extractDecisionOutputs(decisionPayload)

	decision := Decision{Action: action, Reason: reason, Metadata: metadata, Outputs: outputs}

	if shouldCache {
		e.cache.Add(cacheKey, cloneDecision(decision))
	}

	return decision, nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CachedDecisions reports how many decisions are currently cached.
func (e *Engine) CachedDecisions() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

// Close releases underlying OPA resources.
func (e *Engine) Close(_ context.Context) error {
	return nil
}

// Replace swaps in a new module set. The default entrypoint must compile
// against it; otherwise the current modules stay in effect. Cached decisions
// and prepared queries are discarded.
func (e *Engine) Replace(ctx context.Context, modules map[string]string) error {
	set, err := parseModules(modules)
	if err != nil {
		return err
	}
	prepared, err := set.prepare(ctx, e.entrypoint)
	if err != nil {
		return fmt.Errorf("compile rego modules: %w", err)
	}

	e.mu.Lock()
	e.modules = set
	e.queries = map[string]*rego.PreparedEvalQuery{e.entrypoint: prepared}
	e.mu.Unlock()

	e.FlushCache()
	e.logger.Info("Policy modules replaced", "modules", set.order)
	return nil
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	set := e.modules
	e.mu.RUnlock()

	prepared, err := set.prepare(ctx, entry)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Keep the first query prepared for the current module set.
	if e.modules != set {
		return prepared, nil
	}
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = prepared
	return prepared, nil
}

// cacheKey generates a deterministic hash key for caching policy decisions.
func (e *Engine) cacheKey(entry string, input Input) (string, bool) {
	if e.cache == nil || input.DisableCache {
		return "", false
	}
	if strings.TrimSpace(input.Contract) == "" || strings.TrimSpace(input.Method) == "" {
		return "", false
	}

	// Arguments that do not encode cannot be told apart, so they are never cached.
	args, err := json.Marshal(input.Arguments)
	if err != nil {
		return "", false
	}
	attrs, err := json.Marshal(input.Attributes)
	if err != nil {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, entry)
	writeCacheKeyField(h, input.Contract)
	writeCacheKeyField(h, input.Method)
	writeCacheKeyField(h, input.Principal)
	writeCacheKeyField(h, string(args))
	writeCacheKeyField(h, string(attrs))
	return hex.EncodeToString(h.Sum(nil)), true
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
// The trailing null byte provides field separation and doesn't affect hash security.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func cloneDecision(dec Decision) Decision {
	return Decision{
		Action:   dec.Action,
		Reason:   dec.Reason,
		Metadata: cloneStringMap(dec.Metadata),
		Outputs:  cloneAnyMap(dec.Outputs),
	}
}

func cloneArgs(in []any) []any {
	if len(in) == 0 {
		return []any{}
	}
	return append([]any(nil), in...)
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return item.value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		item := tail.Value.(cacheItem)
		delete(c.entries, item.key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch Action(strings.ToLower(text)) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionBlock, "deny":
		return ActionBlock, nil
	default:
		return Action(""), fmt.Errorf("opa decision: unknown action %q", text)
	}
}

func parseMetadata(value any) map[string]string {
	if value == nil {
		return map[string]string{}
	}

	switch typed := value.(type) {
	case map[string]string:
		return cloneStringMap(typed)
	case map[string]any:
		result := make(map[string]string, len(typed))
		for key, raw := range typed {
			if str, ok := raw.(string); ok {
				result[key] = str
			}
		}
		return result
	default:
		return map[string]string{}
	}
}

func extractDecisionOutputs(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}

	outputs := make(map[string]any)
	for key, value := range payload {
		switch strings.ToLower(key) {
		case "action", "reason", "metadata":
			continue
		default:
			outputs[key] = value
		}
	}

	if len(outputs) == 0 {
		return map[string]any{}
	}

	return outputs
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
