// Package main: command line client of the node REST API.
//
// Usage: cli [-u url] <command> [args]. Run `cli help` for the list of commands.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tarancss/lnnode/server"
)

var (
	errArgs    = errors.New("wrong arguments")
	errCommand = errors.New("invalid command, type `cli help` for commands list")
)

// splitPeer splits pubkey@host:port.
func splitPeer(peer string) (pubkey, host, port string, err error) {
	pubkey, hostPort, ok := strings.Cut(peer, "@")
	if !ok {
		return "", "", "", fmt.Errorf("%w: provide peer connection details in format <pubkey@host:port>", errArgs)
	}

	i := strings.LastIndex(hostPort, ":")
	if i < 0 {
		return "", "", "", fmt.Errorf("%w: peer %s has no port", errArgs, peer)
	}

	return pubkey, hostPort[:i], hostPort[i+1:], nil
}

// request turns a command and its arguments into the request posted to the node.
func request(cmd string, args []string) (req server.Request, err error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}

		return ""
	}

	switch cmd {
	case "help", "nodeinfo", "listpeers", "listchannels", "listpayments":
	case "connectpeer":
		if len(args) < 1 {
			return req, fmt.Errorf("%w: connectpeer %s", errArgs, server.Usage[cmd])
		}

		req.Pubkey, req.Host, req.Port, err = splitPeer(args[0])
	case "openchannel":
		if len(args) < 2 { //nolint:gomnd
			return req, fmt.Errorf("%w: openchannel %s", errArgs, server.Usage[cmd])
		}

		req.Pubkey, req.Host, req.Port, err = splitPeer(args[0])
		req.ChannelAmtSatoshis = args[1]

		if arg(2) == "--public" {
			req.ChannelAnnouncement = "true"
		}
	case "getinvoice":
		req.AmtMillisatoshis = arg(0)
	case "sendpayment":
		req.Invoice = arg(0)
	case "closechannel", "forceclosechannel":
		req.ChannelID = arg(0)
	case "signmessage":
		req.Message = strings.Join(args, " ")
	default:
		return req, errCommand
	}

	return req, err
}

func main() {
	url := flag.String("u", "http://127.0.0.1:33335", "url of the node API")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("You must provide an argument to the cli command, e.g. cli nodeinfo")
		os.Exit(1)
	}

	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))

	req, err := request(cmd, flag.Args()[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}

	client := &http.Client{Timeout: 30 * time.Second} //nolint:gomnd

	resp, err := client.Post(*url+"/"+cmd, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error: cannot reach node: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var res struct {
		Body  json.RawMessage `json:"body"`
		Error string          `json:"error"`
	}

	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		fmt.Printf("Error: cannot decode reply (%s): %v\n", resp.Status, err)
		os.Exit(1)
	}

	fmt.Println("-----------------------------------")

	if res.Error != "" {
		fmt.Printf("\t%s\n", res.Error)
		os.Exit(1)
	}

	var out bytes.Buffer
	if err = json.Indent(&out, res.Body, "\t", "  "); err != nil {
		out.Write(res.Body)
	}

	fmt.Printf("\t%s\n", out.String())
}
