// Package discord connects the chat front-end to a Discord bot account.
package discord
