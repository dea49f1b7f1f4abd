package main

import (
	"strings"

	"github.com/liangmanlin/readline"
)

var help = []string{
	"    get <path>    \u001B[35m# send a GET request and print the response\033[0m",
	"    ws <path>     \u001B[35m# open a websocket\033[0m",
	"    send <text>   \u001B[35m# send a text message on the open websocket\033[0m",
	"    close         \u001B[35m# close the open websocket\033[0m",
	"    quit          \u001B[35m# leave the shell\033[0m",
}

func completions() []readline.PrefixCompleterInterface {
	return []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("get"),
		readline.PcItem("ws"),
		readline.PcItem("send"),
		readline.PcItem("close"),
		readline.PcItem("quit"),
	}
}

// parseCommand splits a line into the command word and the rest.
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func requestPath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
