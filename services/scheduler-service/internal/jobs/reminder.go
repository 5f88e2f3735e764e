package jobs

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/northpeak/studio/libs/mail"
)

var reminderPage = template.Must(template.New("reminder").Parse(`<!doctype html>
<html><body style="font-family:sans-serif;color:#222">
<p>Hi {{.Name}},</p>
<p>A quick reminder of your consultation {{.When}}.</p>
<table cellpadding="4">
<tr><td><strong>Date</strong></td><td>{{.Date}}</td></tr>
<tr><td><strong>Time</strong></td><td>{{.Time}} ({{.Timezone}})</td></tr>
<tr><td><strong>Contact</strong></td><td>{{.Contact}}</td></tr>
</table>
<p>If you need to reschedule or cancel, use the link in your confirmation email.</p>
</body></html>`))

type reminderView struct {
	Name     string
	Date     string
	Time     string
	When     string
	Timezone string
	Contact  string
}

func reminderMessage(rm Reminder, timezone string) (mail.Message, error) {
	v := reminderView{
		Name:     rm.Name,
		Date:     rm.Date,
		Time:     rm.Time,
		Timezone: timezone,
		Contact:  rm.PreferredContact,
		When:     "on " + rm.Date,
	}
	if d, err := time.Parse("2006-01-02", rm.Date); err == nil {
		v.Date = d.Format("Monday, 2 January 2006")
		v.When = "on " + d.Format("Monday")
	}
	var buf bytes.Buffer
	if err := reminderPage.Execute(&buf, v); err != nil {
		return mail.Message{}, fmt.Errorf("render reminder: %w", err)
	}
	return mail.Message{
		To:      rm.Email,
		ToName:  rm.Name,
		Subject: "Reminder: your consultation on " + v.Date,
		Text: fmt.Sprintf("Hi %s,\n\nA quick reminder of your consultation %s.\n\nDate: %s\nTime: %s (%s)\nContact: %s\n\nIf you need to reschedule or cancel, use the link in your confirmation email.\n",
			v.Name, v.When, v.Date, v.Time, v.Timezone, v.Contact),
		HTML: buf.String(),
	}, nil
}
