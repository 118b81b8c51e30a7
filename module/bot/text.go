package bot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"PPost/module/point/model"
)

const (
	textNoPoints      = "No checkpoints near you."
	textFetchFailed   = "Could not fetch nearby checkpoints."
	textPointMissing  = "Checkpoint not found. It may have been removed."
	textUseCommands   = "Please use one of the commands."
	textCreateFailed  = "Could not save the checkpoint."
	textConfirmed     = "Thanks, the checkpoint is confirmed."
	textCantConfirm   = "You created this checkpoint or already confirmed it."
	textConfirmFailed = "Could not confirm the checkpoint."
	textShowAll       = "Show all checkpoints nearby"
	textOpenMap       = "Open map"
	textMapIntro      = "The map shows checkpoints; you can add new ones or confirm existing ones. Share your live location to be alerted when you approach one."
)

type command struct {
	name, description string
	service           bool
}

var commands = []command{
	{name: "map", description: "Checkpoint map"},
	{name: "start", description: "Welcome message", service: true},
	{name: "help", description: "List commands", service: true},
}

func isCommand(text string) (string, bool) {
	for _, c := range commands {
		if text == "/"+c.name {
			return c.name, true
		}
	}
	return "", false
}

func helpText() string {
	lines := []string{"Available commands:"}
	for _, c := range commands {
		if c.service {
			continue
		}
		lines = append(lines, fmt.Sprintf("/%s: %s", c.name, c.description))
	}
	return strings.Join(lines, "\n")
}

func welcomeText(u *User) string {
	name := ""
	if u != nil {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	if name == "" {
		return "Welcome.\n\nSend /map to open the checkpoint map."
	}
	return "Welcome, " + name + ".\n\nSend /map to open the checkpoint map."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// NearbyText is the headline of a nearby-points message.
func NearbyText(points []model.NearbyPoint) string {
	n := len(points)
	return fmt.Sprintf("%d new %s nearby", n, plural(n, "checkpoint", "checkpoints"))
}

// Button is one inline button. Either Data (a callback) or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// NearbyButtons builds one row per point plus the show-all and map rows.
func NearbyButtons(mapURL, chatID string, points []model.NearbyPoint) []Button {
	out := make([]Button, 0, len(points)+2)
	for _, np := range points {
		m := int(math.Floor(np.Distance))
		label := fmt.Sprintf("%d %s. %s.", m, plural(m, "meter", "meters"), np.Point.Status.Description())
		if np.Point.Medical {
			label += " Medical"
		}
		out = append(out, Button{Text: label, Data: mustJSON(callbackData{Point: np.Point.ID})})
	}
	out = append(out, Button{Text: textShowAll, Data: mustJSON(callbackData{Points: "all"})})
	if mapURL != "" {
		out = append(out, Button{Text: textOpenMap, URL: MapLink(mapURL, chatID)})
	}
	return out
}

func MapLink(mapURL, chatID string) string {
	sep := "?"
	if strings.Contains(mapURL, "?") {
		sep = "&"
	}
	return mapURL + sep + "chat_id=" + chatID
}

// PointDetails renders p as titled paragraphs; empty fields are skipped.
func PointDetails(p model.Point, now time.Time) string {
	medical := "Absent"
	if p.Medical {
		medical = "Present"
	}
	voted := ""
	if p.VotedAt != nil {
		voted = ago(now, *p.VotedAt)
	}
	author := p.CreatedByName
	if author == "" {
		author = p.CreatedBy
	}
	rows := [][2]string{
		{"Coordinates", strconv.FormatFloat(p.Latitude, 'g', 6, 64) + ", " + strconv.FormatFloat(p.Longitude, 'g', 6, 64)},
		{"Status", p.Status.Description()},
		{"Medical service", medical},
		{"Confirmations", strconv.Itoa(len(p.Votes))},
		{"Last confirmed", voted},
		{"Description", p.Description},
		{"Created", ago(now, p.CreatedAt)},
		{"Author", author},
	}
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		parts = append(parts, "*"+r[0]+"*\n"+r[1])
	}
	return strings.Join(parts, "\n\n")
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d / time.Minute)
		return fmt.Sprintf("%d %s ago", m, plural(m, "minute", "minutes"))
	case d < 24*time.Hour:
		h := int(d / time.Hour)
		return fmt.Sprintf("%d %s ago", h, plural(h, "hour", "hours"))
	}
	days := int(d / (24 * time.Hour))
	return fmt.Sprintf("%d %s ago", days, plural(days, "day", "days"))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
