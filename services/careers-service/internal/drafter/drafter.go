// Package drafter writes cover letter text for a job application.
package drafter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/northpeak/studio/services/careers-service/internal/profile"
)

const maxJobDescription = 6000

type Input struct {
	Profile        profile.Profile
	Company        string
	RoleTitle      string
	JobDescription string
	ContactName    string
}

type Drafter interface {
	Draft(ctx context.Context, in Input) (string, error)
	Name() string
}

const systemPrompt = `You write concise, specific cover letters for a freelance software engineer.
Write plain text only: no markdown, no placeholders, no subject line, no signature block.
Use three or four short paragraphs, under 350 words, and ground every claim in the candidate profile.`

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nRole: %s\n", in.Company, in.RoleTitle)
	if in.ContactName != "" {
		fmt.Fprintf(&b, "Addressed to: %s\n", in.ContactName)
	}
	desc := in.JobDescription
	if len(desc) > maxJobDescription {
		n := maxJobDescription
		for n > 0 && !utf8.RuneStart(desc[n]) {
			n--
		}
		desc = desc[:n]
	}
	if desc != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", desc)
	}
	p := in.Profile
	fmt.Fprintf(&b, "\nCandidate: %s, %s\nSummary: %s\nSkills: %s\n", p.Name, p.Headline, p.Summary, strings.Join(p.Skills, ", "))
	for _, e := range p.Experience {
		fmt.Fprintf(&b, "- %s at %s (%s): %s\n", e.Title, e.Company, e.Period(), strings.Join(e.Highlights, "; "))
	}
	return b.String()
}

var letterTemplate = template.Must(template.New("letter").Funcs(template.FuncMap{"lower": lowerFirst}).Parse(`{{if .ContactName}}Dear {{.ContactName}},{{else}}Dear {{.Company}} team,{{end}}

I am writing to apply for the {{.RoleTitle}} role at {{.Company}}. {{.Profile.Summary}}

{{with .Recent}}Most recently I worked as {{.Title}} at {{.Company}}{{if .Highlights}}, where I {{index .Highlights 0 | lower}}{{end}}. {{end}}{{if .Skills}}My day-to-day toolkit includes {{.Skills}}.{{end}}

I would welcome the chance to talk about how I can help {{.Company}} ship. Thank you for your time.`))

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Template renders a fixed letter from the profile. It never fails on valid input.
type Template struct{}

func (Template) Name() string { return "template" }

func (Template) Draft(_ context.Context, in Input) (string, error) {
	data := struct {
		Input
		Recent *profile.Experience
		Skills string
	}{Input: in}
	if len(in.Profile.Experience) > 0 {
		data.Recent = &in.Profile.Experience[0]
	}
	if n := len(in.Profile.Skills); n > 0 {
		skills := in.Profile.Skills
		if n > 5 {
			skills = skills[:5]
		}
		data.Skills = strings.Join(skills, ", ")
	}
	var buf bytes.Buffer
	if err := letterTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("drafter: template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Fallback uses primary and drops to secondary when primary errors or returns
// nothing. Name reports the drafter that produced the last text, so a Fallback
// belongs to one run and is not safe for concurrent use.
type Fallback struct {
	primary    Drafter
	secondary  Drafter
	used       Drafter
	logger     *slog.Logger
	onFallback func(primary string)
}

func NewFallback(primary, secondary Drafter, logger *slog.Logger, onFallback func(primary string)) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, used: primary, logger: logger, onFallback: onFallback}
}

func (f *Fallback) Name() string { return f.used.Name() }

func (f *Fallback) Draft(ctx context.Context, in Input) (string, error) {
	f.used = f.primary
	text, err := f.primary.Draft(ctx, in)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), nil
	}
	if err == nil {
		err = fmt.Errorf("drafter: %s returned empty text", f.primary.Name())
	}
	f.logger.WarnContext(ctx, "ai drafter failed, using fallback", "drafter", f.primary.Name(), "err", err)
	if f.onFallback != nil {
		f.onFallback(f.primary.Name())
	}
	f.used = f.secondary
	return f.secondary.Draft(ctx, in)
}
