package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts portal workflow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	signIns        *prometheus.CounterVec
	magicLinks     *prometheus.CounterVec
	onboarding     *prometheus.CounterVec
	invitations    *prometheus.CounterVec
	callbackErrors *prometheus.CounterVec
}

// NewMetrics creates and registers the portal counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "sign_ins_total",
			Help:      "Password sign-in attempts by outcome.",
		}, []string{"outcome"}),
		magicLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "magic_links_total",
			Help:      "Sign-in links by stage and outcome.",
		}, []string{"stage", "outcome"}),
		onboarding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "onboarding_submissions_total",
			Help:      "Onboarding submissions by final state.",
		}, []string{"state"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "invitations_total",
			Help:      "Invitation operations by action and outcome.",
		}, []string{"action", "outcome"}),
		callbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "auth_callback_errors_total",
			Help:      "Auth callback failures by error code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.signIns, m.magicLinks, m.onboarding, m.invitations, m.callbackErrors)
	}
	return m
}

func (m *Metrics) signIn(outcome string) {
	if m != nil {
		m.signIns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) magicLink(stage, outcome string) {
	if m != nil {
		m.magicLinks.WithLabelValues(stage, outcome).Inc()
	}
}

func (m *Metrics) onboardingOutcome(state FlowState) {
	if m != nil {
		m.onboarding.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) invitation(action, outcome string) {
	if m != nil {
		m.invitations.WithLabelValues(action, outcome).Inc()
	}
}

func (m *Metrics) callbackError(code string) {
	if m != nil {
		m.callbackErrors.WithLabelValues(code).Inc()
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
