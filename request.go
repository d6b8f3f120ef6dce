package rtmp

import (
	"strings"

	"github.com/torresjeff/rtmplive/amf/amf0"
	"github.com/torresjeff/rtmplive/config"
)

// DefaultVhost is the vhost of a client that names none. It is left out of stream urls.
const DefaultVhost = "__defaultVhost__"

const defaultVhostParam = "?vhost=" + DefaultVhost

// Request identifies the stream a connection publishes or plays.
type Request struct {
	IP             string
	TcUrl          string
	PageUrl        string
	SwfUrl         string
	ObjectEncoding float64

	Schema string
	Vhost  string
	Host   string
	Port   string
	App    string
	// Param holds the query of the tcUrl or stream name, including the leading '?'.
	Param  string
	Stream string

	// Duration in seconds of a play request, -1 when unbounded.
	Duration float64
	// Args is the optional argument object of the connect command.
	Args *amf0.Object
}

func NewRequest() *Request {
	return &Request{ObjectEncoding: 3, Duration: -1}
}

// DiscoveryTcUrl fills schema, host, port, vhost, app and param from the tcUrl, then
// resolves any vhost or params carried by the stream name.
func (r *Request) DiscoveryTcUrl(tcUrl string) {
	r.TcUrl = tcUrl
	url := tcUrl
	if i := strings.Index(url, "://"); i >= 0 {
		r.Schema = url[:i]
		url = url[i+3:]
	}

	if i := strings.Index(url, "/"); i >= 0 {
		r.Host = url[:i]
		url = url[i+1:]
		if j := strings.Index(r.Host, ":"); j >= 0 {
			r.Port = r.Host[j+1:]
			r.Host = r.Host[:j]
		} else {
			r.Port = config.DefaultPort
		}
	}

	r.App = url
	r.Vhost = r.Host
	resolveVhost(&r.Vhost, &r.App, &r.Param)
	resolveVhost(&r.Vhost, &r.Stream, &r.Param)

	if r.Param == defaultVhostParam {
		r.Param = ""
	}
}

var paramSeparators = strings.NewReplacer(",", "?", "...", "?", "&&", "?", "=", "?")

// resolveVhost strips the query from name into param, and picks up a vhost parameter.
func resolveVhost(vhost, name, param *string) {
	if i := strings.Index(*name, "?"); i >= 0 {
		*param = (*name)[i:]
	}

	s := paramSeparators.Replace(*name)
	s = strings.TrimSuffix(s, "/_definst_")

	i := strings.Index(s, "?")
	if i < 0 {
		*name = s
		return
	}
	query := s[i+1:]
	*name = s[:i]

	j := strings.Index(query, "vhost")
	if j < 0 || j+6 > len(query) {
		return
	}
	v := query[j+6:]
	if k := strings.Index(v, "?"); k >= 0 {
		v = v[:k]
	}
	if v != "" {
		*vhost = v
	}
}

var stripSpace = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "")

// Strip removes whitespace, backslashes and ".." from the identity fields and trims
// stray slashes from app and stream.
func (r *Request) Strip() {
	clean := func(s string) string {
		s = stripSpace.Replace(s)
		s = strings.ReplaceAll(s, "\\", "")
		s = strings.ReplaceAll(s, "..", "")
		for strings.Contains(s, "//") {
			s = strings.ReplaceAll(s, "//", "/")
		}
		return s
	}
	r.Host = strings.ReplaceAll(clean(r.Host), "/", "")
	r.Vhost = strings.ReplaceAll(clean(r.Vhost), "/", "")
	r.App = strings.Trim(clean(r.App), "/")
	r.Stream = strings.Trim(clean(r.Stream), "/")
}

// StreamURL is the registry key of the stream: vhost/app/stream, without the default vhost.
func (r *Request) StreamURL() string {
	var b strings.Builder
	if r.Vhost != DefaultVhost {
		b.WriteString(r.Vhost)
	}
	b.WriteByte('/')
	b.WriteString(r.App)
	b.WriteByte('/')
	b.WriteString(r.Stream)
	return b.String()
}

func (r *Request) Copy() *Request {
	c := *r
	if r.Args != nil {
		c.Args = r.Args.Copy()
	}
	return &c
}

// Update refreshes the fields a republishing client may change.
func (r *Request) Update(other *Request) {
	r.PageUrl = other.PageUrl
	r.SwfUrl = other.SwfUrl
	r.TcUrl = other.TcUrl
	r.Param = other.Param
	r.Duration = other.Duration
	r.Args = nil
	if other.Args != nil {
		r.Args = other.Args.Copy()
	}
}
