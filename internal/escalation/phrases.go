package escalation

// Phrase sets used by the classifier. Matching is case-insensitive
// substring containment over the normalized text.

// explicitOfferPhrases mark responses where the assistant itself offered a
// handoff to a human.
var explicitOfferPhrases = []string{
	"connect you with",
	"let me connect",
	"talk to a human",
	"speak with an agent",
	"transfer you to",
	"escalate to",
	"human agent can help",
	"specialist can help",
	"representative can assist",
	"schedule a callback",
	"call you back",
}

// humanRequestPhrases mark user queries that explicitly ask for a person.
var humanRequestPhrases = []string{
	"talk to someone",
	"speak to a person",
	"human agent",
	"representative",
	"real person",
	"customer service agent",
	"claim specialist",
	"talk to a manager",
}

// securityTriggers always require human intervention, whichever side of
// the conversation they appear on.
var securityTriggers = []string{
	"account locked",
	"authentication failed",
	"fraud detected",
	"security breach",
	"access denied",
	"locked out",
}

// errorIndicators suggest the assistant hit a system problem.
var errorIndicators = []string{
	"technical difficulty",
	"system error",
	"unable to access",
	"having trouble",
	"connection error",
}

// domainKeywords scope the success/problem override to claim handling.
var domainKeywords = []string{
	"claim",
}

// successIndicators mark a claim response as a positive outcome, which
// cancels the soft error/length signals.
var successIndicators = []string{
	"processed",
	"approved",
	"paid",
	"completed",
	"explanation of benefits",
	"claim has been",
	"insurance has paid",
}

// problemIndicators mark a claim response as unresolved.
var problemIndicators = []string{
	"denied",
	"rejected",
	"under investigation",
	"additional information needed",
	"contact us",
	"call us",
}
