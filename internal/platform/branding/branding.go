// Package branding centralizes product naming shared across services.
package branding

// AppName is the user-facing product name.
const AppName = "VibeFunder"
