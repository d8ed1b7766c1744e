package grants

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/venue-concierge/internal/domain"
)

type RenderOptions struct {
	Now   time.Time
	Title string
	// ItemNames resolves item IDs to menu names; unknown IDs print as-is.
	ItemNames map[domain.ItemID]string
}

func renderView(requests []domain.GrantRequest, opts RenderOptions, s styles) string {
	title := opts.Title
	if title == "" {
		title = "Grant Requests"
	}
	lines := []string{
		s.title.Render(title),
		s.header.Render(fmt.Sprintf("requests: %d", len(requests))),
	}

	if len(requests) == 0 {
		lines = append(lines, s.empty.Render("Nothing waiting on the owner."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, request := range requests {
		lines = append(lines, s.section.Render(renderRequest(request, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderRequest(request domain.GrantRequest, opts RenderOptions, s styles) string {
	heading := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.item.Render(itemTitle(request.ItemID, opts.ItemNames)),
		" ",
		statusBadge(request.Status, s),
	)
	if !opts.Now.IsZero() && request.Expired(opts.Now) {
		heading += " " + s.warning.Render("[expired]")
	}

	parts := []string{
		heading,
		s.detail.Render(fmt.Sprintf("id: %s", request.ID)),
		s.detail.Render(fmt.Sprintf("session: %s  requester: %s", request.SessionID, requesterLabel(request.RequesterName))),
		expiryLine(request, opts.Now),
	}
	if note := strings.TrimSpace(request.Note); note != "" {
		parts = append(parts, s.note.Render(fmt.Sprintf("note: %s", note)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func itemTitle(id domain.ItemID, names map[domain.ItemID]string) string {
	if name := strings.TrimSpace(names[id]); name != "" {
		return fmt.Sprintf("%s (%s)", name, id)
	}
	return string(id)
}

func requesterLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "anonymous"
	}
	return name
}

func statusBadge(status domain.GrantStatus, s styles) string {
	label := fmt.Sprintf("[%s]", status)
	switch status {
	case domain.GrantStatusApproved:
		return s.approved.Render(label)
	case domain.GrantStatusDenied:
		return s.denied.Render(label)
	default:
		return s.pending.Render(label)
	}
}

func expiryLine(request domain.GrantRequest, now time.Time) string {
	color := expiryColor(request.ExpiresAt, now, request.ExpiresAt.Sub(request.RequestedAt))
	return lipgloss.NewStyle().Foreground(color).Render(formatExpiryRelative(request.ExpiresAt, now))
}

func formatExpiryAt(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return expiresAt.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := expiresAt.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return expiresAt.Format("15:04")
	}

	return expiresAt.Format("15:04 on 02 Jan")
}

func formatExpiryRelative(expiresAt, now time.Time) string {
	if now.IsZero() {
		return "expires " + formatExpiryAt(expiresAt, now)
	}
	if !expiresAt.After(now) {
		return "expired " + formatExpiryAt(expiresAt, now)
	}

	remaining := expiresAt.Sub(now)
	if remaining < time.Hour {
		minutes := int(math.Ceil(remaining.Minutes()))
		suffix := "minutes"
		if minutes == 1 {
			suffix = "minute"
		}
		return fmt.Sprintf("expires in %d %s (%s)", minutes, suffix, formatExpiryAt(expiresAt, now))
	}

	hours := int(math.Ceil(remaining.Hours()))
	suffix := "hours"
	if hours == 1 {
		suffix = "hour"
	}
	return fmt.Sprintf("expires in %d %s (%s)", hours, suffix, formatExpiryAt(expiresAt, now))
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, 240 (faded) to 255 (bright).
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}

// expiryColor brightens as the deadline approaches.
func expiryColor(expiresAt, now time.Time, window time.Duration) lipgloss.Color {
	if now.IsZero() || !expiresAt.After(now) || window <= 0 {
		return lipgloss.Color("255")
	}

	remaining := expiresAt.Sub(now)
	inverted := window.Seconds() - remaining.Seconds()
	return interpolateColor(inverted, 0, window.Seconds())
}
