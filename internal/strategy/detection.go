package strategy

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/source"
	"github.com/nmslite/engine/internal/telemetry"
)

// Detection decides which connectors apply to the host and records the
// outcome as the status metric of one connector monitor per connector.
type Detection struct {
	env *Env
}

func NewDetection(env *Env) *Detection {
	return &Detection{env: env}
}

func (d *Detection) Name() string { return "detection" }

// selection is the parsed connectors list of a host: "+id" forces a
// connector, "!id" excludes it and a bare id restricts detection to the
// bare ids listed.
type selection struct {
	forced   map[string]bool
	excluded map[string]bool
	only     map[string]bool
}

func parseSelection(entries []string) selection {
	s := selection{forced: map[string]bool{}, excluded: map[string]bool{}, only: map[string]bool{}}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case strings.HasPrefix(e, "+"):
			s.forced[strings.TrimSpace(e[1:])] = true
		case strings.HasPrefix(e, "!"):
			s.excluded[strings.TrimSpace(e[1:])] = true
		case e != "":
			s.only[e] = true
		}
	}
	return s
}

func (s selection) candidate(id string) bool {
	if s.excluded[id] {
		return false
	}
	return s.forced[id] || len(s.only) == 0 || s.only[id]
}

type detectionResult struct {
	connector *connector.Connector
	ok        bool
	message   string
}

func (d *Detection) Run(ctx context.Context) error {
	manager := d.env.Manager
	manager.EndpointHostMonitor()

	sel := parseSelection(manager.HostConfig().Connectors)
	var candidates []*connector.Connector
	for _, c := range manager.Connectors().List() {
		if sel.candidate(c.ID) {
			candidates = append(candidates, c)
		}
	}

	results := make([]detectionResult, len(candidates))
	err := d.env.forEach(ctx, len(candidates), func(ctx context.Context, i int) error {
		c := candidates[i]
		ok, message, err := d.detect(ctx, c, sel.forced[c.ID])
		if err != nil {
			return err
		}
		results[i] = detectionResult{connector: c, ok: ok, message: message}
		return nil
	})
	if err != nil {
		return err
	}

	applySupersedes(results)
	d.publish(results)
	return nil
}

func (d *Detection) detect(ctx context.Context, c *connector.Connector, forced bool) (bool, string, error) {
	if forced {
		return true, "forced by host configuration", nil
	}

	hostType := d.env.Manager.HostConfig().HostType
	if len(c.Detection.AppliesTo) > 0 && !containsFold(c.Detection.AppliesTo, hostType) {
		return false, fmt.Sprintf("host type %s is not supported", hostType), nil
	}

	orch := d.env.orchestrator(c)
	for i, crit := range c.Detection.Criteria {
		ok, message, err := d.criterion(ctx, orch, crit)
		if err != nil {
			return false, "", err
		}
		if !ok {
			if crit.ErrorMessage != "" {
				message = crit.ErrorMessage
			}
			return false, fmt.Sprintf("criterion %d (%s) failed: %s", i+1, crit.Type, message), nil
		}
	}
	return true, "all criteria passed", nil
}

func (d *Detection) criterion(ctx context.Context, orch *source.Orchestrator, crit connector.Criterion) (bool, string, error) {
	switch crit.Type {
	case connector.CriterionDeviceType:
		hostType := d.env.Manager.HostConfig().HostType
		if len(crit.Keep) > 0 && !containsFold(crit.Keep, hostType) {
			return false, "device type not kept", nil
		}
		if containsFold(crit.Exclude, hostType) {
			return false, "device type excluded", nil
		}
		return true, "", nil

	case connector.CriterionProductRequirements:
		return d.productRequirements(crit.EngineVersion)

	default:
		if crit.Source == nil {
			return false, "criterion has no source", nil
		}
		table, err := orch.RunSource(ctx, *crit.Source, nil)
		if err != nil {
			return false, "", err
		}
		result := table.Text()
		if strings.TrimSpace(result) == "" {
			return false, "no result", nil
		}
		if crit.ExpectedResult != "" {
			re, err := regexp.Compile("(?im)" + crit.ExpectedResult)
			if err != nil {
				return false, fmt.Sprintf("invalid expected result: %v", err), nil
			}
			if !re.MatchString(result) {
				return false, fmt.Sprintf("result does not match %q", crit.ExpectedResult), nil
			}
		}
		if crit.Type == connector.CriterionCommandLine {
			d.env.Manager.HostProperties().SetShellAvailable(true)
		}
		return true, "", nil
	}
}

func (d *Detection) productRequirements(constraint string) (bool, string, error) {
	if constraint == "" {
		return true, "", nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Sprintf("invalid engine version constraint: %v", err), nil
	}
	version := d.env.EngineVersion
	if version == "" {
		version = DefaultEngineVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Sprintf("invalid engine version: %v", err), nil
	}
	if !c.Check(v) {
		return false, fmt.Sprintf("engine %s does not satisfy %s", version, constraint), nil
	}
	return true, "", nil
}

// applySupersedes fails every passing connector named in the supersedes
// list of another passing connector.
func applySupersedes(results []detectionResult) {
	superseded := map[string]string{}
	for _, r := range results {
		if !r.ok {
			continue
		}
		for _, id := range r.connector.Detection.Supersedes {
			superseded[strings.ToLower(id)] = r.connector.ID
		}
	}
	for i := range results {
		if !results[i].ok {
			continue
		}
		if by, ok := superseded[strings.ToLower(results[i].connector.ID)]; ok && by != results[i].connector.ID {
			results[i].ok = false
			results[i].message = "superseded by " + by
		}
	}
}

func (d *Detection) publish(results []detectionResult) {
	manager := d.env.Manager
	now := manager.StrategyTime()
	logger := d.env.logger()

	for _, r := range results {
		if r.connector == nil {
			continue
		}
		status := telemetry.ConnectorStatusFailed
		if r.ok {
			status = telemetry.ConnectorStatusOK
		}

		m := telemetry.NewMonitorFactory(manager, r.connector.ID, now).
			CreateOrUpdateMonitor(telemetry.ConnectorMonitorType, r.connector.ID, map[string]string{
				telemetry.AttributeID:   r.connector.ID,
				telemetry.AttributeName: r.connector.DisplayName,
				"connector.message":     r.message,
			})
		telemetry.CollectStateSetMetric(m, telemetry.ConnectorStatusMetric, status, telemetry.ConnectorStatusStates, now)

		logger.Info("Connector detection",
			"hostname", manager.Hostname(),
			"connector", r.connector.ID,
			"status", status,
			"message", r.message,
		)
	}
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(strings.TrimSpace(v), s) })
}
