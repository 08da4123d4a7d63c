// Package planka is a small client for the Planka REST API. It covers the
// read endpoints the watcher polls plus access-token login, and adapts the
// responses to the watch data model.
package planka
