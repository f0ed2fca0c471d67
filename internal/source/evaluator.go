package source

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"infra-alert/internal/alert"
	"infra-alert/internal/config"
	"infra-alert/internal/logging"
)

const (
	TargetServer    = "server"
	TargetContainer = "container"
)

// DefaultRules are used when the config declares no rules.
func DefaultRules() []config.RuleConfig {
	return []config.RuleConfig{
		{Name: "server_offline", Target: TargetServer, Level: "critical", When: `status == "offline"`, Message: `"Server offline"`},
		{Name: "cpu_critical", Target: TargetServer, Level: "critical", When: `cpu >= 90`, Message: `"CPU " + pct(cpu)`},
		{Name: "cpu_warning", Target: TargetServer, Level: "warning", When: `cpu >= 80 && cpu < 90`, Message: `"CPU " + pct(cpu)`},
		{Name: "mem_critical", Target: TargetServer, Level: "critical", When: `mem >= 90`, Message: `"Memory " + pct(mem)`},
		{Name: "mem_warning", Target: TargetServer, Level: "warning", When: `mem >= 80 && mem < 90`, Message: `"Memory " + pct(mem)`},
		{Name: "disk_critical", Target: TargetServer, Level: "critical", When: `disk >= 90`, Message: `"Disk " + pct(disk)`},
		{Name: "disk_warning", Target: TargetServer, Level: "warning", When: `disk >= 85 && disk < 90`, Message: `"Disk " + pct(disk)`},
		{Name: "container_error", Target: TargetContainer, Level: "critical", When: `state == "error"`, Message: `"Container error"`},
		{Name: "container_stopped", Target: TargetContainer, Level: "warning", When: `state == "stopped"`, Message: `"Container stopped" + (uptime != "" ? " (" + uptime + ")" : "")`},
		{Name: "container_restarting", Target: TargetContainer, Level: "warning", When: `state == "restarting"`, Message: `"Container restarting"`},
	}
}

type rule struct {
	name    string
	target  string
	level   alert.Severity
	when    *vm.Program
	message *vm.Program
}

// Evaluator turns a snapshot into candidate alerts by running compiled expr
// rules against every server or container.
type Evaluator struct {
	rules []rule
}

func NewEvaluator(cfgs []config.RuleConfig) (*Evaluator, error) {
	if len(cfgs) == 0 {
		cfgs = DefaultRules()
	}
	e := &Evaluator{}
	var errs []error
	for _, rc := range cfgs {
		r, err := compileRule(rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rc.Name, err))
			continue
		}
		e.rules = append(e.rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return e, nil
}

func compileRule(rc config.RuleConfig) (rule, error) {
	r := rule{name: rc.Name, target: strings.ToLower(strings.TrimSpace(rc.Target))}
	var sample map[string]any
	switch r.target {
	case TargetServer:
		sample = serverEnv(Server{})
	case TargetContainer:
		sample = containerEnv(Container{})
	default:
		return rule{}, fmt.Errorf("unknown target %q", rc.Target)
	}

	level, err := alert.ParseSeverity(rc.Level)
	if err != nil {
		return rule{}, err
	}
	r.level = level

	if r.when, err = expr.Compile(rc.When, expr.Env(sample), expr.AsBool()); err != nil {
		return rule{}, fmt.Errorf("compile when: %w", err)
	}
	msg := rc.Message
	if msg == "" {
		msg = fmt.Sprintf("%q", rc.Name)
	}
	if r.message, err = expr.Compile(msg, expr.Env(sample), expr.AsKind(reflect.String)); err != nil {
		return rule{}, fmt.Errorf("compile message: %w", err)
	}
	return r, nil
}

// Evaluate runs every rule against snap. A rule that fails at runtime is
// logged and skipped for that subject.
func (e *Evaluator) Evaluate(snap Snapshot) []alert.Alert {
	var out []alert.Alert
	for _, srv := range snap.Servers {
		out = append(out, e.apply(TargetServer, srv.Name, serverEnv(srv))...)
	}
	for _, c := range snap.Containers {
		out = append(out, e.apply(TargetContainer, c.Name, containerEnv(c))...)
	}
	return out
}

func (e *Evaluator) apply(target, subject string, env map[string]any) []alert.Alert {
	var out []alert.Alert
	for _, r := range e.rules {
		if r.target != target {
			continue
		}
		hit, err := expr.Run(r.when, env)
		if err != nil {
			logging.Warnf("rule %s on %s: %v", r.name, subject, err)
			continue
		}
		if ok, _ := hit.(bool); !ok {
			continue
		}
		msg, err := expr.Run(r.message, env)
		if err != nil {
			logging.Warnf("rule %s message on %s: %v", r.name, subject, err)
			continue
		}
		out = append(out, alert.Alert{Level: r.level, Message: fmt.Sprint(msg), Source: subject})
	}
	return out
}

// Rules lists the loaded rule names in evaluation order.
func (e *Evaluator) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.name)
	}
	return names
}

// 未上报的指标取 -1，阈值比较自然不命中
func serverEnv(s Server) map[string]any {
	return map[string]any{
		"name":   s.Name,
		"status": string(s.Status),
		"cpu":    pctOrMissing(s.CPU),
		"mem":    pctOrMissing(s.Mem),
		"disk":   pctOrMissing(s.Disk),
		"pct":    formatPct,
	}
}

func containerEnv(c Container) map[string]any {
	return map[string]any{
		"name":   c.Name,
		"state":  string(c.State),
		"uptime": c.Uptime,
		"pct":    formatPct,
	}
}

func pctOrMissing(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}

func formatPct(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}
