package browse

// overlayScript renders the advisory as a dismissible banner instead of a
// modal alert, so the page keeps loading underneath.
const overlayScript = `(message) => {
	const id = "warden-advisory";
	let banner = document.getElementById(id);
	if (!banner) {
		banner = document.createElement("div");
		banner.id = id;
		banner.setAttribute("role", "alert");
		banner.style.cssText = [
			"position:fixed", "top:0", "left:0", "right:0", "z-index:2147483647",
			"padding:12px 16px", "background:#b00020", "color:#fff",
			"font:14px/1.4 system-ui,sans-serif", "display:flex", "gap:12px",
			"align-items:center", "justify-content:space-between",
		].join(";");
		const text = document.createElement("span");
		text.className = id + "__text";
		const dismiss = document.createElement("button");
		dismiss.textContent = "Dismiss";
		dismiss.style.cssText = "background:#fff;color:#b00020;border:0;padding:4px 10px;cursor:pointer";
		dismiss.addEventListener("click", () => banner.remove());
		banner.append(text, dismiss);
		(document.body || document.documentElement).prepend(banner);
	}
	banner.querySelector("." + id + "__text").textContent = message;
}`
