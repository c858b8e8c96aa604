package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"

	"github.com/hkuds/shellbox/internal/config"
	"github.com/hkuds/shellbox/internal/sandbox"
	"github.com/hkuds/shellbox/internal/session"
)

// Status display styles.
var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205")).
				MarginBottom(1).
				Padding(0, 1)

	statusBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Width(64)

	statusSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginTop(1)

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Width(20)

	statusValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255"))

	statusEnabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")).
				Bold(true)

	statusDisabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	statusWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))
)

// RenderStatus renders the configuration summary shown by `shellbox status`.
func RenderStatus(cfg *config.Config) string {
	var sb strings.Builder

	sb.WriteString(statusTitleStyle.Render("Shellbox Configuration Status"))
	sb.WriteString("\n\n")

	sb.WriteString(statusSectionStyle.Render("Sandbox"))
	sb.WriteString("\n")
	sb.WriteString(renderSandboxStatus(cfg))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Sessions"))
	sb.WriteString("\n")
	sb.WriteString(renderStatusRow("TTL", statusValueStyle.Render(cfg.TTL().String())))
	sb.WriteString(renderStatusRow("Reaper every", statusValueStyle.Render(cfg.ReapInterval().String())))
	sb.WriteString(renderStoreStatus(cfg))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Channels"))
	sb.WriteString("\n")
	sb.WriteString(renderChannelsStatus(cfg))
	sb.WriteString("\n")

	sb.WriteString(statusSectionStyle.Render("Observability"))
	sb.WriteString("\n")
	if cfg.Metrics.Addr != "" {
		sb.WriteString(renderStatusRow("Metrics", statusEnabledStyle.Render("http://"+cfg.Metrics.Addr+"/metrics")))
	} else {
		sb.WriteString(renderStatusRow("Metrics", statusDisabledStyle.Render("disabled")))
	}
	sb.WriteString(renderStatusRow("Log", statusValueStyle.Render(cfg.Log.Level+" / "+cfg.Log.Format)))

	return statusBoxStyle.Render(sb.String())
}

// ShowStatus prints the configuration summary.
func ShowStatus(cfg *config.Config) {
	fmt.Println(RenderStatus(cfg))
}

func renderSandboxStatus(cfg *config.Config) string {
	var sb strings.Builder

	env, err := cfg.SandboxEnvelope()
	if err != nil {
		sb.WriteString(renderStatusRow("Envelope", statusWarningStyle.Render(err.Error())))
		return sb.String()
	}

	host := env.DockerHost
	if host == "" {
		host = "default (DOCKER_HOST or local socket)"
	}
	sb.WriteString(renderStatusRow("Docker", statusValueStyle.Render(host)))
	sb.WriteString(renderStatusRow("Image", statusValueStyle.Render(env.Image)))
	sb.WriteString(renderStatusRow("Memory", statusValueStyle.Render(units.BytesSize(float64(env.MemoryBytes())))))
	sb.WriteString(renderStatusRow("CPUs", statusValueStyle.Render(fmt.Sprintf("%.2f", env.CPUs))))
	sb.WriteString(renderStatusRow("Processes", statusValueStyle.Render(fmt.Sprintf("%d", env.MaxProcesses))))
	sb.WriteString(renderStatusRow("Open files", statusValueStyle.Render(fmt.Sprintf("%d", env.MaxOpenFiles))))

	if env.NetworkEnabled {
		sb.WriteString(renderStatusRow("Network", statusWarningStyle.Render("enabled")))
	} else {
		sb.WriteString(renderStatusRow("Network", statusEnabledStyle.Render("none")))
	}
	if env.UseGVisor {
		sb.WriteString(renderStatusRow("Runtime", statusEnabledStyle.Render("gVisor (runsc)")))
	} else {
		sb.WriteString(renderStatusRow("Runtime", statusValueStyle.Render("default")))
	}
	return sb.String()
}

func renderStoreStatus(cfg *config.Config) string {
	switch cfg.Store.Driver {
	case config.StoreFile:
		return renderStatusRow("Store", statusValueStyle.Render("file "+cfg.DataPath()))
	case config.StorePostgres:
		return renderStatusRow("Store", statusValueStyle.Render("postgres "+maskDSN(cfg.Store.DSN)))
	default:
		return renderStatusRow("Store", statusWarningStyle.Render("memory (lost on restart)"))
	}
}

func renderChannelsStatus(cfg *config.Config) string {
	var sb strings.Builder

	tg := cfg.Channels.Telegram
	if !tg.Enabled {
		sb.WriteString(renderStatusRow("Telegram", statusDisabledStyle.Render("disabled")))
		return sb.String()
	}

	sb.WriteString(renderStatusRow("Telegram", statusEnabledStyle.Render("enabled")))
	sb.WriteString(renderStatusRow("  Token", statusValueStyle.Render(maskToken(tg.Token))))
	if len(tg.AllowFrom) > 0 {
		users := strings.Join(tg.AllowFrom, ", ")
		if len(users) > 30 {
			users = users[:27] + "..."
		}
		sb.WriteString(renderStatusRow("  Allowed", statusValueStyle.Render(users)))
	} else {
		sb.WriteString(renderStatusRow("  Allowed", statusWarningStyle.Render("nobody (allowFrom is empty)")))
	}
	return sb.String()
}

// renderStatusRow renders a label-value row.
func renderStatusRow(label, value string) string {
	if label == "" {
		return fmt.Sprintf("  %s\n", value)
	}
	return fmt.Sprintf("  %s %s\n",
		statusLabelStyle.Render(label+":"),
		value,
	)
}

// maskToken masks a secret for display.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// maskDSN hides the password in a postgres URL.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "****"
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":****@" + host
}

// RenderSessions renders the admin session table: one row per active
// session with its remaining time and resource usage.
func RenderSessions(usages []session.Usage, now time.Time) string {
	if len(usages) == 0 {
		return statusDisabledStyle.Render("No active sessions.")
	}

	header := fmt.Sprintf("%-24s %-14s %-12s %-10s %8s %-22s %5s",
		"OWNER", "SANDBOX", "CREATED", "REMAINING", "CPU", "MEMORY", "PIDS")

	var sb strings.Builder
	sb.WriteString(tableHeaderStyle.Render(header))
	sb.WriteString("\n")
	for _, u := range usages {
		s := u.Session
		remaining := s.Remaining(now).Round(time.Second).String()
		if s.Expired(now) {
			remaining = "expired"
		}
		cpu, mem, pids := "-", "-", "-"
		if u.Stats != nil {
			cpu = fmt.Sprintf("%.1f%%", u.Stats.CPUPercent)
			mem = formatMemory(*u.Stats)
			pids = fmt.Sprintf("%d", u.Stats.PIDs)
		}
		fmt.Fprintf(&sb, "%-24s %-14s %-12s %-10s %8s %-22s %5s\n",
			truncateCell(s.OwnerID, 24),
			shortID(s.SandboxID),
			units.HumanDuration(now.Sub(s.CreatedAt))+" ago",
			remaining, cpu, mem, pids)
	}
	fmt.Fprintf(&sb, "\n%d active session(s)", len(usages))
	return sb.String()
}

// RenderOrphans renders the containers found by reconciliation.
func RenderOrphans(orphans []sandbox.ManagedContainer, removed bool, now time.Time) string {
	if len(orphans) == 0 {
		return statusEnabledStyle.Render("No orphaned sandboxes.")
	}

	var sb strings.Builder
	sb.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-14s %-40s %-24s %-10s %s", "SANDBOX", "NAME", "OWNER", "STATE", "AGE")))
	sb.WriteString("\n")
	for _, c := range orphans {
		fmt.Fprintf(&sb, "%-14s %-40s %-24s %-10s %s\n",
			shortID(c.ID), truncateCell(c.Name, 40), truncateCell(c.Owner, 24), c.State,
			units.HumanDuration(now.Sub(c.Created)))
	}
	verb := "found"
	if removed {
		verb = "removed"
	}
	fmt.Fprintf(&sb, "\n%d orphaned sandbox(es) %s", len(orphans), verb)
	return sb.String()
}

func formatMemory(u sandbox.Usage) string {
	return units.BytesSize(float64(u.MemoryUsage)) + " / " + units.BytesSize(float64(u.MemoryLimit))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateCell(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
