package memory

import (
	"time"

	"github.com/unkn0wn-root/querysync/inbox"
)

var demo = []struct {
	title, desc, email, status, priority string
	notes                                []string
}{
	{"Cannot log in after password reset", "The reset link works but the new password is rejected.", "ana@acme.io", inbox.StatusOpen, inbox.PriorityHigh,
		[]string{"Asked for the browser version.", "Reproduced on Safari 17."}},
	{"Invoice shows wrong VAT rate", "March invoice applies 23% instead of 8%.", "billing@northwind.example", inbox.StatusPending, inbox.PriorityMedium,
		[]string{"Forwarded to finance."}},
	{"Export to CSV times out", "Exports over 50k rows never finish.", "ops@globex.example", inbox.StatusOpen, inbox.PriorityHigh, nil},
	{"Feature request: dark mode", "Team works night shifts and would like a dark theme.", "lee@initech.example", inbox.StatusOpen, inbox.PriorityLow, nil},
	{"Webhook retries flood our endpoint", "Failed deliveries are retried every second.", "dev@umbrella.example", inbox.StatusPending, inbox.PriorityHigh,
		[]string{"Backoff fix is scheduled for next release."}},
	{"Typo on pricing page", "\"Anual\" should be \"Annual\".", "sam@hooli.example", inbox.StatusResolved, inbox.PriorityLow, nil},
	{"SSO metadata URL returns 404", "Okta cannot fetch our SAML metadata.", "it@vandelay.example", inbox.StatusOpen, inbox.PriorityMedium, nil},
	{"Mobile app crashes on upload", "Android 14, uploading photos over 10MB.", "maria@acme.io", inbox.StatusOpen, inbox.PriorityHigh,
		[]string{"Crash log attached by customer."}},
	{"Change account owner", "Previous owner left the company.", "hr@northwind.example", inbox.StatusResolved, inbox.PriorityMedium, nil},
	{"Duplicate notifications", "Every comment triggers two emails.", "tom@globex.example", inbox.StatusPending, inbox.PriorityLow, nil},
	{"API rate limit too strict", "We hit 429 during nightly sync.", "api@initech.example", inbox.StatusOpen, inbox.PriorityMedium, nil},
	{"Cannot delete archived project", "Delete button is greyed out.", "kim@hooli.example", inbox.StatusOpen, inbox.PriorityLow, nil},
}

// Seed fills s with demo tickets created an hour apart, newest first.
func Seed(s *Server) {
	base := s.now()
	for i, d := range demo {
		t := s.Add(inbox.Ticket{
			Title:         d.title,
			Description:   d.desc,
			CustomerEmail: d.email,
			Status:        d.status,
			Priority:      d.priority,
			CreatedAt:     base.Add(-time.Duration(i) * time.Hour),
		})
		for _, n := range d.notes {
			s.AddNote(t.ID, Agent, n)
		}
	}
}
