/*
Package sandbox runs page scripts for the simulated extension.

Each loaded page gets one Runtime: a goja VM whose globals persist between
scripts, so an injection that defines window.helper is visible to a later
executeJS or callHelper on the same page. Navigation discards the runtime.

# Page model

The DOM is a real parse of the page markup. Selectors are CSS unless they
start with "/" or "./", in which case they are XPath. Scripts see:

  - document with querySelector, querySelectorAll, getElementById and title
  - element proxies with textContent, value, innerHTML and attribute access
  - window, self and a read-only location
  - console, captured per execution

Timers never fire, and require, process and module are removed.

# Limits

Every execution is bounded by Config.Timeout and the caller's context; a
runaway script is interrupted and the runtime stays usable.
*/
package sandbox
