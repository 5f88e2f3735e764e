package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type view struct {
	Event         string
	Name          string
	Email         string
	Mobile        string
	Company       string
	Date          string
	Time          string
	Duration      string
	Timezone      string
	ContactMethod string
	Message       string
	ManageURL     string
	PreviousDate  string
	PreviousTime  string
	Reason        string
}

func render(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// plainText is the text/plain alternative sent with every HTML body.
func plainText(intro string, v view) string {
	var sb strings.Builder
	if v.Event == "" {
		fmt.Fprintf(&sb, "Hi %s,\n\n", v.Name)
	} else {
		fmt.Fprintf(&sb, "%s: %s <%s>\n\n", v.Event, v.Name, v.Email)
	}
	sb.WriteString(intro + "\n\n")
	fmt.Fprintf(&sb, "Date: %s\nTime: %s (%s, %s)\nContact: %s\n", v.Date, v.Time, v.Duration, v.Timezone, v.ContactMethod)
	if v.Company != "" {
		fmt.Fprintf(&sb, "Company: %s\n", v.Company)
	}
	if v.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", v.Reason)
	}
	if v.Message != "" && v.Event != "" {
		fmt.Fprintf(&sb, "\n%s\n", v.Message)
	}
	if v.ManageURL != "" {
		fmt.Fprintf(&sb, "\nReschedule or cancel: %s\n", v.ManageURL)
	}
	return sb.String()
}
