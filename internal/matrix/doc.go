// Package matrix connects the chat front-end to a Matrix homeserver.
//
// The bot answers in the rooms it is invited to. Buttons have no Matrix
// equivalent, so each button row is rendered as a footer naming the text
// command that performs the same action.
package matrix
