// Package prompts contains the LLM prompt templates used by Marquee.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Editable behavioral guidance lives in talent files; this package
// holds the fixed framing around them.
//
// Convention: each prompt gets an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
