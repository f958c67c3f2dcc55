// Package tgui builds Telegram HTML replies. Plain text is escaped on the way
// in; values of type H are already safe.
package tgui
