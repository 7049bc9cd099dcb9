package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler represents a command handler with its middleware.
// It encapsulates all information needed to register a command.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

func command(pattern string, h tgbot.HandlerFunc, mw ...tgbot.Middleware) RegisteredHandler {
	return RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     pattern,
		Handler:     h,
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  mw,
	}
}

// RegisterAllCommands initializes and returns a map of all available bot commands.
// Everything except /start and /help is restricted to admins.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = command("start", NewStartHandler(deps))
	handlers["/help"] = command("help", NewHelpHandler(deps))

	admin := AdminOnly(deps)
	handlers["/status"] = command("status", NewStatusHandler(deps), admin)
	handlers["/mirrors"] = command("mirrors", NewMirrorsHandler(deps), admin)
	handlers["/chats"] = command("chats", NewChatsHandler(deps), admin)
	handlers["/add_mirror"] = command("add_mirror", NewAddMirrorHandler(deps), admin)
	handlers["/remove_mirror"] = command("remove_mirror", NewRemoveMirrorHandler(deps), admin)
	handlers["/toggle_mirror"] = command("toggle_mirror", NewToggleMirrorHandler(deps), admin)
	handlers["/copy_message"] = command("copy_message", NewCopyMessageHandler(deps), admin)
	handlers["/render"] = command("render", NewRenderHandler(deps), admin)
	handlers["/users"] = command("users", NewUsersHandler(deps), admin)

	settings := newSettingsManager(deps)
	handlers["/settings"] = command("settings", NewSettingsHandler(settings), admin)
	handlers["/set"] = command("set", NewSetHandler(settings), admin)

	return handlers
}
