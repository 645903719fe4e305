// Package session carries session cookies between the hosted auth client
// and whichever HTTP response will eventually reach the browser.
//
// The auth client never writes cookies itself; it asks a Jar.  Two jars
// exist: LiveJar applies each mutation immediately to the in-flight request
// and response (request middleware), BufferedJar records mutations so they
// can be replayed onto a response that does not exist yet (the OAuth
// callback, whose redirect target is only known after the code exchange).
package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieOptions is the option set the auth client attaches to a cookie.
// Removal reuses the same options so the browser matches the original
// cookie (same path and domain).
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   int
	Expires  time.Time
	SameSite http.SameSite
	Secure   bool
	HTTPOnly bool
}

// Cookie builds the http.Cookie for name/value under these options.
func (o CookieOptions) Cookie(name, value string) *http.Cookie {
	path := o.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   o.Domain,
		MaxAge:   o.MaxAge,
		Expires:  o.Expires,
		SameSite: o.SameSite,
		Secure:   o.Secure,
		HttpOnly: o.HTTPOnly,
	}
}

// removal returns the options used to delete a cookie: empty value, same
// path/domain/flags, immediate expiry.
func (o CookieOptions) removal() CookieOptions {
	o.MaxAge = -1
	o.Expires = time.Unix(0, 0)
	return o
}

// Jar is the cookie store the auth client reads and mutates.
type Jar interface {
	// Get returns the current value of a cookie.
	Get(name string) (string, bool)
	// Set stores a cookie with the given options.
	Set(name, value string, opts CookieOptions)
	// Remove deletes a cookie by setting an empty value with opts.
	Remove(name string, opts CookieOptions)
}

// LiveJar mirrors every mutation onto both the request (so handlers further
// down the chain observe the refreshed session) and the response (so the
// browser receives it).
type LiveJar struct {
	req *http.Request
	w   http.ResponseWriter
}

// NewLiveJar binds a jar to the in-flight request and response.
func NewLiveJar(req *http.Request, w http.ResponseWriter) *LiveJar {
	return &LiveJar{req: req, w: w}
}

func (j *LiveJar) Get(name string) (string, bool) {
	c, err := j.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (j *LiveJar) Set(name, value string, opts CookieOptions) {
	rewriteRequestCookie(j.req, name, value)
	http.SetCookie(j.w, opts.Cookie(name, value))
}

func (j *LiveJar) Remove(name string, opts CookieOptions) {
	rewriteRequestCookie(j.req, name, "")
	http.SetCookie(j.w, opts.removal().Cookie(name, ""))
}

// rewriteRequestCookie replaces (or drops, when value is empty) a cookie in
// the request's Cookie header while keeping the order of the others.
func rewriteRequestCookie(req *http.Request, name, value string) {
	existing := req.Cookies()
	parts := make([]string, 0, len(existing)+1)
	replaced := false
	for _, c := range existing {
		if c.Name == name {
			if !replaced && value != "" {
				parts = append(parts, (&http.Cookie{Name: name, Value: value}).String())
			}
			replaced = true
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	if !replaced && value != "" {
		parts = append(parts, (&http.Cookie{Name: name, Value: value}).String())
	}
	if len(parts) == 0 {
		req.Header.Del("Cookie")
		return
	}
	req.Header.Set("Cookie", strings.Join(parts, "; "))
}

// Instruction is one buffered cookie mutation.
type Instruction struct {
	Name    string
	Value   string
	Options CookieOptions
	Remove  bool
}

// Cookie renders the instruction as the cookie that will be sent.
func (i Instruction) Cookie() *http.Cookie {
	if i.Remove {
		return i.Options.removal().Cookie(i.Name, "")
	}
	return i.Options.Cookie(i.Name, i.Value)
}

// BufferedJar reads from the original request but only records mutations.
// ApplyTo replays them, in issue order, onto the response that is finally
// returned.  A later mutation of the same cookie replaces the earlier one
// so the response never carries duplicates.
type BufferedJar struct {
	req   *http.Request
	order []string
	ops   map[string]Instruction
}

// NewBufferedJar creates a jar reading cookies from req.
func NewBufferedJar(req *http.Request) *BufferedJar {
	return &BufferedJar{req: req, ops: map[string]Instruction{}}
}

func (j *BufferedJar) Get(name string) (string, bool) {
	if op, ok := j.ops[name]; ok {
		if op.Remove {
			return "", false
		}
		return op.Value, true
	}
	c, err := j.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (j *BufferedJar) Set(name, value string, opts CookieOptions) {
	j.record(Instruction{Name: name, Value: value, Options: opts})
}

func (j *BufferedJar) Remove(name string, opts CookieOptions) {
	j.record(Instruction{Name: name, Options: opts, Remove: true})
}

func (j *BufferedJar) record(op Instruction) {
	if _, seen := j.ops[op.Name]; !seen {
		j.order = append(j.order, op.Name)
	}
	j.ops[op.Name] = op
}

// Instructions returns the buffered mutations in the order their cookies
// were first touched.
func (j *BufferedJar) Instructions() []Instruction {
	out := make([]Instruction, 0, len(j.order))
	for _, name := range j.order {
		out = append(out, j.ops[name])
	}
	return out
}

// Discard drops every buffered mutation.
func (j *BufferedJar) Discard() {
	j.order = nil
	j.ops = map[string]Instruction{}
}

// ApplyTo writes every buffered mutation as a Set-Cookie header on w.
func (j *BufferedJar) ApplyTo(w http.ResponseWriter) {
	for _, op := range j.Instructions() {
		http.SetCookie(w, op.Cookie())
	}
}
