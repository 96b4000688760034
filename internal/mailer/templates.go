package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html><body style="font-family:Arial,Helvetica,sans-serif;background:#f5f6f8;padding:24px;color:#1f2933">
<div style="max-width:640px;margin:0 auto;background:#ffffff;border-radius:8px;padding:24px">
{{template "content" .}}
<p style="color:#7b8794;font-size:12px;margin-top:32px">This message was sent by ProjectDesk.</p>
</div></body></html>{{end}}`

var templates = map[string]string{
	"invitation": `{{define "content"}}
<h2>You have been invited to ProjectDesk</h2>
<p>Hello {{.Name}},</p>
<p>{{.InvitedBy}} invited you to collaborate on {{len .Projects}} project(s):</p>
<ul>{{range .Projects}}<li>{{.}}</li>{{end}}</ul>
<p><a href="{{.Link}}" style="background:#2563eb;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none">Accept invitation</a></p>
<p>This link expires on {{.ExpiresAt}}.</p>
{{end}}`,

	"temporary_password": `{{define "content"}}
<h2>Your temporary password</h2>
<p>Hello {{.Name}},</p>
<p>An administrator issued a temporary password for your account:</p>
<p style="font-size:20px;font-family:monospace;letter-spacing:2px"><strong>{{.Password}}</strong></p>
<p>Sign in at <a href="{{.Link}}">{{.Link}}</a>{{if .MustChange}} and choose a new password right away{{end}}.</p>
{{end}}`,

	"reset_requested": `{{define "content"}}
<h2>Password reset requested</h2>
<p>{{.Name}} ({{.Email}}) asked for a password reset on {{.RequestedAt}}.</p>
<p>Open the <a href="{{.Link}}">user administration page</a> to send a temporary password.</p>
{{end}}`,

	"project_report": `{{define "content"}}
<h2>{{.ProjectName}} status report</h2>
<p style="color:#52606d">{{.Period}}</p>
<p><span style="display:inline-block;padding:4px 10px;border-radius:12px;color:#fff;background:{{.HealthColor}}">{{.HealthLabel}} · {{.HealthScore}}/100</span></p>
{{if .Description}}<div>{{.Description}}</div>{{end}}
<table style="border-collapse:collapse;width:100%;margin:16px 0">
<tr><td>Total tasks</td><td align="right"><strong>{{.Total}}</strong></td></tr>
<tr><td>Completed</td><td align="right">{{.Completed}} ({{.CompletionPercent}}%)</td></tr>
<tr><td>Completed this week</td><td align="right">{{.CompletedRecently}}</td></tr>
<tr><td>Overdue</td><td align="right" style="color:#b91c1c">{{.Overdue}}</td></tr>
<tr><td>Due in the next 7 days</td><td align="right">{{.DueSoon}}</td></tr>
<tr><td>Blocked</td><td align="right">{{.Blocked}}</td></tr>
</table>
<h3>By status</h3>
<ul>{{range .ByStatus}}<li>{{.Status}}: {{.Count}}</li>{{end}}</ul>
{{if .OverdueTasks}}<h3>Overdue tasks</h3>
<ul>{{range .OverdueTasks}}<li>{{.Title}} (due {{.Due}})</li>{{end}}</ul>{{end}}
{{if .Notes}}<h3>Notes</h3><div>{{.Notes}}</div>{{end}}
<p><a href="{{.Link}}">Open the project</a></p>
{{end}}`,
}

var parsed = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(templates))
	for name, body := range templates {
		t := template.Must(template.New(name).Parse(layout))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}()

// Render executes the named email template.
func Render(name string, data interface{}) (string, error) {
	t, ok := parsed[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

type InvitationData struct {
	Name      string
	InvitedBy string
	Projects  []string
	Link      string
	ExpiresAt string
}

type TemporaryPasswordData struct {
	Name       string
	Password   string
	Link       string
	MustChange bool
}

type ResetRequestedData struct {
	Name        string
	Email       string
	RequestedAt string
	Link        string
}
