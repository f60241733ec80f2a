// Package main is previewctl, a command line client for the preview sandbox.
//
// Usage:
//
//	# Render one component and print its markup
//	previewctl render Card.tsx --html
//
//	# Query the rendered tree
//	previewctl render Card.tsx --xpath '//li[1]'
//	previewctl render Card.tsx --query 'li.done'
//
//	# Render every component under a directory through one session
//	previewctl check ./components --pattern '**/*.{tsx,jsx}'
//
//	# Ask the generation service for a component and render it
//	GENERATOR_URL=http://localhost:8001 previewctl generate "a todo list"
//
// Configuration follows the server: environment variables, overlaid by the
// file given with --config.
package main
