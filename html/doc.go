package html

// html derives the text/plain alternative of an email from its HTML body.
// It's not concerned with the lower-level logic involved in sending the
// email, and makes no attempt to validate or fix the HTML it's given.
