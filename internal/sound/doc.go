// Package sound plays the audible alert for a triggered keyword rule.
package sound
