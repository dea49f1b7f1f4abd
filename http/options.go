package http

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/freekieb7/burrow/validation"
)

var (
	ErrUnknownOption   = errors.New("http: unknown option")
	ErrOptionImmutable = errors.New("http: option cannot change while running")
)

type option struct {
	name  string
	value string
	rules []string
	// live options may be changed on a running engine
	live bool
}

var optionTable = []option{
	{name: "listening_ports", value: "8080", rules: []string{"required"}},
	{name: "document_root", value: ""},
	{name: "ssl_certificate", value: ""},
	{name: "ssl_ca_file", value: ""},
	{name: "ssl_verify_peer", value: "no", rules: []string{"boolean"}},
	{name: "num_threads", value: "50", rules: []string{"required", "integer", "min:1"}},
	{name: "request_timeout_ms", value: "30000", rules: []string{"required", "integer", "min:1"}, live: true},
	{name: "websocket_timeout_ms", value: "", rules: []string{"integer", "min:1"}, live: true},
	{name: "enable_websocket_ping_pong", value: "no", rules: []string{"boolean"}, live: true},
	{name: "enable_keep_alive", value: "no", rules: []string{"boolean"}, live: true},
	{name: "keep_alive_timeout_ms", value: "500", rules: []string{"integer", "min:0"}, live: true},
	{name: "max_request_size", value: "16384", rules: []string{"required", "integer", "min:1024"}, live: true},
	{name: "max_websocket_message_size", value: "1048576", rules: []string{"integer", "min:0"}, live: true},
	{name: "enable_directory_listing", value: "yes", rules: []string{"boolean"}, live: true},
	{name: "index_files", value: "index.html,index.htm", live: true},
	{name: "authentication_domain", value: "mydomain.com", live: true},
	{name: "cgi_environment", value: "", live: true},
}

// Options holds the engine configuration as name/value strings. Every known
// option always has a value, possibly empty.
type Options struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewOptions returns the defaults overridden by name/value pairs.
func NewOptions(kv ...string) (*Options, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("http: odd number of option arguments")
	}

	options := &Options{values: make(map[string]string, len(optionTable))}
	for _, opt := range optionTable {
		options.values[opt.name] = opt.value
	}

	for i := 0; i < len(kv); i += 2 {
		if err := options.Set(kv[i], kv[i+1]); err != nil {
			return nil, err
		}
	}
	return options, nil
}

func lookupOption(name string) (option, bool) {
	for _, opt := range optionTable {
		if opt.name == name {
			return opt, true
		}
	}
	return option{}, false
}

// Get returns the value of a known option. Unknown names report false.
func (o *Options) Get(name string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	value, ok := o.values[name]
	return value, ok
}

// Set validates and stores value.
func (o *Options) Set(name, value string) error {
	opt, ok := lookupOption(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	violations := validation.ValidateMap(map[string]any{name: value}, map[string][]string{name: opt.rules})
	if err := violations.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.values[name] = value
	o.mu.Unlock()
	return nil
}

// Names lists every known option in sorted order.
func (o *Options) Names() []string {
	names := make([]string, 0, len(optionTable))
	for _, opt := range optionTable {
		names = append(names, opt.name)
	}
	sort.Strings(names)
	return names
}

func (o *Options) clone() *Options {
	o.mu.RLock()
	defer o.mu.RUnlock()

	values := make(map[string]string, len(o.values))
	for k, v := range o.values {
		values[k] = v
	}
	return &Options{values: values}
}

// validate checks every option against its rules at once.
func (o *Options) validate() error {
	o.mu.RLock()
	data := make(map[string]any, len(o.values))
	rules := make(map[string][]string, len(o.values))
	for _, opt := range optionTable {
		data[opt.name] = o.values[opt.name]
		rules[opt.name] = opt.rules
	}
	o.mu.RUnlock()

	return validation.ValidateMap(data, rules).Err()
}

// settings is the typed snapshot of the live options read by connections.
type settings struct {
	requestTimeout    time.Duration
	websocketTimeout  time.Duration
	keepAliveTimeout  time.Duration
	websocketPingPong bool
	keepAlive         bool
	maxRequestSize    int
	maxMessageSize    int64
	directoryListing  bool
	indexFiles        []string
	authDomain        string
}

func (o *Options) settings() *settings {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := &settings{
		requestTimeout:    o.millis("request_timeout_ms"),
		websocketTimeout:  o.millis("websocket_timeout_ms"),
		keepAliveTimeout:  o.millis("keep_alive_timeout_ms"),
		websocketPingPong: validation.ValidateTrue(o.values["enable_websocket_ping_pong"]),
		keepAlive:         validation.ValidateTrue(o.values["enable_keep_alive"]),
		maxRequestSize:    o.integer("max_request_size"),
		maxMessageSize:    int64(o.integer("max_websocket_message_size")),
		directoryListing:  validation.ValidateTrue(o.values["enable_directory_listing"]),
		authDomain:        o.values["authentication_domain"],
	}
	if s.websocketTimeout == 0 {
		s.websocketTimeout = s.requestTimeout
	}
	for _, name := range strings.Split(o.values["index_files"], ",") {
		if name = strings.TrimSpace(name); name != "" {
			s.indexFiles = append(s.indexFiles, name)
		}
	}
	return s
}

func (o *Options) integer(name string) int {
	n, _ := strconv.Atoi(o.values[name])
	return n
}

func (o *Options) millis(name string) time.Duration {
	return time.Duration(o.integer(name)) * time.Millisecond
}

func (o *Options) boolean(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return validation.ValidateTrue(o.values[name])
}
