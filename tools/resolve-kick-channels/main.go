package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/john/unichat/internal/kick"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel-or-url> [channel-or-url] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels paymoneywubby https://kick.com/xqc")
		os.Exit(1)
	}

	channels := os.Args[1:]
	fmt.Printf("Resolving %d Kick channel(s)...\n\n", len(channels))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	client := &http.Client{Timeout: 10 * time.Second}

	var results []kick.Channel
	failures := make(map[string]string)

	for _, arg := range channels {
		slug := arg
		if strings.Contains(arg, "://") {
			s, err := kick.SlugFromURL(arg)
			if err != nil {
				failures[arg] = err.Error()
				continue
			}
			slug = s
		}

		ch, err := kick.ResolveChannel(ctx, client, slug)
		if err != nil {
			failures[arg] = err.Error()
			continue
		}
		results = append(results, ch)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Slug < results[j].Slug })

	if len(results) > 0 {
		fmt.Println("✓ Successfully resolved:")
		fmt.Println("---")
		for _, ch := range results {
			fmt.Printf("%s: chatroom %d (channel %d)\n", ch.Slug, ch.ChatroomID, ch.ChannelID)
		}
		fmt.Println()
	}

	if len(failures) > 0 {
		fmt.Println("✗ Failed to resolve:")
		fmt.Println("---")
		for arg, err := range failures {
			fmt.Printf("%s: %s\n", arg, err)
		}
		fmt.Println()
	}

	if len(results) > 0 {
		fmt.Println("Add this to your config.yaml:")
		fmt.Println("---")
		fmt.Println("kick:")
		fmt.Printf("  url: https://kick.com/%s\n", results[0].Slug)
		fmt.Println("  chatrooms:")
		for _, ch := range results {
			fmt.Printf("    %s: %d\n", ch.Slug, ch.ChatroomID)
		}
	}

	if len(failures) > 0 {
		os.Exit(1)
	}
}
