package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	sheets "google.golang.org/api/sheets/v4"
)

// Interactive helper for obtaining the Google Sheets credentials
// document stored on a google-sheets plugin. Runs the OAuth consent
// flow and prints the JSON blob to paste into the plugin's
// access_token column.
func main() {
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		log.Fatal("Please set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{sheets.SpreadsheetsScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to retrieve token from web: %v", err)
	}

	creds, err := json.MarshalIndent(map[string]string{
		"token":         tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"token_uri":     google.Endpoint.TokenURL,
		"client_id":     clientID,
		"client_secret": clientSecret,
	}, "", "  ")
	if err != nil {
		log.Fatalf("Unable to encode credentials: %v", err)
	}

	fmt.Println("\nStore this document as the plugin's access token:")
	fmt.Println(string(creds))
}
