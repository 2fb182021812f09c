package bot

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rule maps any of its keywords to a canned reply.
type Rule struct {
	Name     string   `yaml:"name" toml:"name" json:"name"`
	Keywords []string `yaml:"keywords" toml:"keywords" json:"keywords"`
	Reply    string   `yaml:"reply" toml:"reply" json:"reply"`
}

// RuleSet is an ordered rule list plus the reply used when none match.
type RuleSet struct {
	Default string `yaml:"default" toml:"default" json:"default"`
	Rules   []Rule `yaml:"rules" toml:"rules" json:"rules"`
}

type compiledRule struct {
	rule     Rule
	keywords []string
}

// Responder generates replies from a RuleSet. Rules can be swapped at
// runtime with SetRules.
type Responder struct {
	mu    sync.RWMutex
	rules []compiledRule
	def   string
}

// NewResponder compiles rs.
func NewResponder(rs RuleSet) *Responder {
	r := &Responder{}
	r.SetRules(rs)
	return r
}

// SetRules replaces the rule set. Keywords are normalized once here.
func (r *Responder) SetRules(rs RuleSet) {
	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		c := compiledRule{rule: rule}
		for _, kw := range rule.Keywords {
			if kw = Normalize(kw); kw != "" {
				c.keywords = append(c.keywords, kw)
			}
		}
		if len(c.keywords) > 0 {
			compiled = append(compiled, c)
		}
	}
	r.mu.Lock()
	r.rules = compiled
	r.def = rs.Default
	r.mu.Unlock()
}

// Rules returns the active rule set.
func (r *Responder) Rules() RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs := RuleSet{Default: r.def, Rules: make([]Rule, len(r.rules))}
	for i, c := range r.rules {
		rs.Rules[i] = c.rule
	}
	return rs
}

// Generate returns the reply of the first rule with a keyword contained in
// body, comparing case- and accent-insensitively. Without a match it
// returns the default, which may be empty.
func (r *Responder) Generate(body string) string {
	reply, _ := r.Match(body)
	return reply
}

// Match is Generate that also names the rule that matched ("" for the
// default).
func (r *Responder) Match(body string) (reply, rule string) {
	text := Normalize(body)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rules {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.rule.Reply, c.rule.Name
			}
		}
	}
	return r.def, ""
}

// Normalize folds case and strips combining accents, so "Cardápio" and
// "CARDAPIO" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(cases.Fold().String(out))
}

// DefaultRules covers the questions a restaurant gets most.
func DefaultRules() RuleSet {
	return RuleSet{
		Default: "¡Gracias por escribirnos! En breve te atiende una persona del equipo.",
		Rules: []Rule{
			{
				Name:     "menu",
				Keywords: []string{"menu", "menú", "cardápio", "carta", "pratos", "platos", "dishes"},
				Reply:    "Puedes ver nuestra carta completa en el enlace de nuestro perfil. ¿Te ayudo a elegir algo?",
			},
			{
				Name:     "hours",
				Keywords: []string{"horario", "horário", "abierto", "aberto", "abren", "cierran", "fecha", "opening hours", "open today"},
				Reply:    "Abrimos de martes a domingo, de 12:00 a 23:00.",
			},
			{
				Name:     "reservations",
				Keywords: []string{"reserva", "mesa", "reservation", "book a table"},
				Reply:    "Con gusto reservamos tu mesa. Dinos el día, la hora y cuántas personas serán.",
			},
			{
				Name:     "delivery",
				Keywords: []string{"delivery", "domicilio", "entrega", "envío", "pedido", "order"},
				Reply:    "Hacemos entregas en un radio de 5 km. Envíanos tu pedido y la dirección.",
			},
			{
				Name:     "prices",
				Keywords: []string{"precio", "preço", "cuanto cuesta", "quanto custa", "price", "cost"},
				Reply:    "Los precios están en la carta. Si buscas algo en particular, pregúntanos.",
			},
		},
	}
}
