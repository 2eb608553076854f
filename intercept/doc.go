// Package intercept observes method invocations on individual live objects.
//
// Asking an Engine for the trigger or argument stream of (object, selector)
// moves the object onto a hidden runtime subclass of its class, created once
// per class, and reroutes the selector on that subclass through the
// engine. Every later send of the selector to the object runs the original
// behavior exactly once and then publishes an Event on the stream. Other
// instances of the class are unaffected. The stream completes when the
// object is disposed.
//
// Call shapes with a registered trampoline template are served by a
// specialized method installed directly in the subclass. Every other shape
// goes through the class's forwarding handler.
//
// Setup problems (an unknown selector, a return or argument encoding the
// marshaler cannot describe) are programming errors and panic with
// *SetupError before any call is affected.
package intercept
