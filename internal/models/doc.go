// Package models provides functionality for listing the chat models
// available to an OpenAI API key, helping operators pick a translation
// model for the pipeline.
package models
