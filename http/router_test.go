package http

import "testing"

func handlerReturning(status uint16) Handler {
	return func(c *Conn, data any) uint16 { return status }
}

func TestRouterPrecedence(t *testing.T) {
	router := NewRouter()
	router.Handle("/", handlerReturning(1), "root")
	router.Handle("/api", handlerReturning(2), "api")
	router.Handle("/api/v1/", handlerReturning(3), "v1")
	router.Handle("/api/v1/users", handlerReturning(4), "users")
	router.Handle("/static*", handlerReturning(5), "static")

	tests := []struct {
		uri  string
		data any
	}{
		{"/", "root"},
		{"/other", "root"},
		{"/api", "api"},
		{"/api/x", "api"},
		{"/apix", "root"},
		{"/api/v1/", "v1"},
		{"/api/v1/things", "v1"},
		{"/api/v1/users", "users"},
		{"/api/v1/users/7", "users"},
		{"/staticfile.css", "static"},
		{"/static/js/app.js", "static"},
	}

	for _, tt := range tests {
		binding, found := router.Resolve(tt.uri)
		if !found {
			t.Errorf("%s: no binding", tt.uri)
			continue
		}
		if binding.UserData != tt.data {
			t.Errorf("%s: expected %v, got %v", tt.uri, tt.data, binding.UserData)
		}
	}
}

func TestRouterNoMatch(t *testing.T) {
	router := NewRouter()
	router.Handle("/a", handlerReturning(1), nil)

	if _, found := router.Resolve("/b"); found {
		t.Error("unexpected binding for /b")
	}
	if _, found := router.Resolve("/ab"); found {
		t.Error("/a must not cover /ab")
	}
}

func TestRouterReplaceExact(t *testing.T) {
	router := NewRouter()
	router.Handle("/x", handlerReturning(1), "first")
	router.Handle("/y", handlerReturning(2), "other")
	router.Handle("/x", handlerReturning(3), "second")

	binding, found := router.Resolve("/x")
	if !found || binding.UserData != "second" {
		t.Fatalf("expected latest binding, got %v", binding.UserData)
	}
	if status := binding.Handler(nil, nil); status != 3 {
		t.Errorf("expected latest handler, got %d", status)
	}
	if len(router.bindings) != 2 {
		t.Errorf("replacement must not add a binding, have %d", len(router.bindings))
	}
}

func TestRouterTieBreakRecency(t *testing.T) {
	router := NewRouter()
	router.Handle("/a*", handlerReturning(1), "wildcard")
	router.Handle("/a", handlerReturning(2), "prefix")

	binding, _ := router.Resolve("/a/b")
	if binding.UserData != "prefix" {
		t.Errorf("expected most recent binding, got %v", binding.UserData)
	}

	// re-registering refreshes recency
	router.Handle("/a*", handlerReturning(3), "wildcard again")
	binding, _ = router.Resolve("/a/b")
	if binding.UserData != "wildcard again" {
		t.Errorf("expected refreshed binding, got %v", binding.UserData)
	}
}

func TestRouterSentinel(t *testing.T) {
	router := NewRouter()
	router.Handle("/files/", nil, 42)

	binding, found := router.Resolve("/files/a.txt")
	if !found {
		t.Fatal("sentinel binding not resolved")
	}
	if !binding.isSentinel() || binding.UserData != 42 {
		t.Errorf("unexpected binding %+v", binding)
	}

	router.Remove("/files/")
	if _, found := router.Resolve("/files/a.txt"); found {
		t.Error("binding survived removal")
	}
}

func TestRouterWebSocketBinding(t *testing.T) {
	router := NewRouter()
	ws := &WebSocketHandler{}
	router.HandleWebSocket("/ws", ws, "ws")

	binding, found := router.Resolve("/ws")
	if !found || binding.WebSocket != ws || binding.Handler != nil {
		t.Errorf("unexpected binding %+v", binding)
	}
}
