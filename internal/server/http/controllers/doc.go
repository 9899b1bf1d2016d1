// Package controllers groups the HTTP handlers by API area: general, topics,
// messages, and groups. Each controller registers its own routes.
package controllers
